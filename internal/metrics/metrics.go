package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the chartfeed service.
type Metrics struct {
	// Live feed
	FeedTradesTotal     prometheus.Counter
	FeedReconnects      prometheus.Counter
	FeedReconnectDelay  prometheus.Histogram
	FeedProtocolErrors  prometheus.Counter
	FeedState           prometheus.Gauge // feed.State value
	FeedStateTransition *prometheus.CounterVec

	// Candle cache
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge
	CacheSwept   prometheus.Counter

	// Historical fetch
	FetchDur       *prometheus.HistogramVec // labels: provider, outcome
	FetchFallbacks prometheus.Counter

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name

	// Indicator engine
	IndicatorComputeDur *prometheus.HistogramVec // labels: indicator
	IndicatorErrors     *prometheus.CounterVec   // labels: indicator

	// Backpressure
	SnapshotDrops        prometheus.Counter
	ChannelSaturationPct *prometheus.GaugeVec // labels: channel_name

	// Cross-context sync
	SyncPublished prometheus.Counter
	SyncApplied   prometheus.Counter
	SyncDiscarded *prometheus.CounterVec // labels: reason
	SyncBuffered  prometheus.Counter

	// Persistence
	SQLiteCommitDur  prometheus.Histogram
	PersistCoalesced prometheus.Counter

	// Gateway
	GatewayClients  prometheus.Gauge
	GatewayCommands *prometheus.CounterVec // labels: command, outcome
}

// NewMetrics registers and returns all Prometheus metrics on reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fastBuckets := []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	m := &Metrics{
		FeedTradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_feed_trades_total",
			Help: "Trades received from the live feed for subscribed symbols",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_feed_reconnects_total",
			Help: "Live feed reconnection attempts",
		}),
		FeedReconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_feed_reconnect_delay_seconds",
			Help:    "Backoff delay before each reconnection attempt",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30},
		}),
		FeedProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_feed_protocol_errors_total",
			Help: "Malformed live feed messages dropped",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartfeed_feed_state",
			Help: "Live feed state (0=idle, 1=connecting, 2=authenticating, 3=subscribed, 4=reconnecting, 5=closed)",
		}),
		FeedStateTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_feed_state_transitions_total",
			Help: "Live feed state transitions by target state",
		}, []string{"to"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_cache_hits_total",
			Help: "Historical bar lookups served from the cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_cache_misses_total",
			Help: "Historical bar lookups that required a fetch",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartfeed_cache_entries",
			Help: "Symbols currently held in the bar cache",
		}),
		CacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_cache_swept_total",
			Help: "Expired cache entries removed by the sweeper",
		}),

		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartfeed_fetch_duration_seconds",
			Help:    "Historical bar fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		FetchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_fetch_fallbacks_total",
			Help: "Fetches answered by the fallback provider",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chartfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartfeed_indicator_compute_duration_seconds",
			Help:    "Indicator computation latency over a full series",
			Buckets: fastBuckets,
		}, []string{"indicator"}),
		IndicatorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_indicator_errors_total",
			Help: "Indicator computations that failed or panicked",
		}, []string{"indicator"}),

		SnapshotDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_snapshot_drops_total",
			Help: "Snapshots discarded for slow observers",
		}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chartfeed_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		SyncPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_sync_published_total",
			Help: "Settings broadcasts sent to peer contexts",
		}),
		SyncApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_sync_applied_total",
			Help: "Peer settings broadcasts applied locally",
		}),
		SyncDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_sync_discarded_total",
			Help: "Incoming sync messages discarded",
		}, []string{"reason"}),
		SyncBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_sync_buffered_total",
			Help: "Sync publishes held while the redis breaker was open",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		PersistCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_persist_coalesced_total",
			Help: "Pending state changes superseded by a newer change for the same key",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartfeed_gateway_clients",
			Help: "Connected websocket observers",
		}),
		GatewayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_gateway_commands_total",
			Help: "Commands received through the gateway",
		}, []string{"command", "outcome"}),
	}

	reg.MustRegister(
		m.FeedTradesTotal,
		m.FeedReconnects,
		m.FeedReconnectDelay,
		m.FeedProtocolErrors,
		m.FeedState,
		m.FeedStateTransition,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEntries,
		m.CacheSwept,
		m.FetchDur,
		m.FetchFallbacks,
		m.BreakerState,
		m.BreakerTrips,
		m.IndicatorComputeDur,
		m.IndicatorErrors,
		m.SnapshotDrops,
		m.ChannelSaturationPct,
		m.SyncPublished,
		m.SyncApplied,
		m.SyncDiscarded,
		m.SyncBuffered,
		m.SQLiteCommitDur,
		m.PersistCoalesced,
		m.GatewayClients,
		m.GatewayCommands,
	)

	return m
}
