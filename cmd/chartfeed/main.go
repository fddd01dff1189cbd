package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chartfeed/config"
	"chartfeed/internal/breaker"
	"chartfeed/internal/candles"
	"chartfeed/internal/crosssync"
	"chartfeed/internal/gateway"
	"chartfeed/internal/indicator"
	"chartfeed/internal/logger"
	"chartfeed/internal/marketdata/feed"
	"chartfeed/internal/marketdata/history"
	"chartfeed/internal/metrics"
	"chartfeed/internal/model"
	"chartfeed/internal/scheduler"
	"chartfeed/internal/session"
	redisstore "chartfeed/internal/store/redis"
	sqlitestore "chartfeed/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CHARTFEED_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: cfg.Service,
		Level:   logger.ParseLevel(cfg.LogLevel),
		File:    cfg.LogFile,
	})
	log.Info("starting",
		slog.String("user", cfg.UserID),
		slog.String("feed", cfg.Feed.URL),
		slog.String("timeframe", cfg.History.Timeframe))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.HTTP.MetricsAddr, health, reg, log)
	metricsSrv.Start()

	// ---- SQLite state store ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLite.Path}, log)
	if err != nil {
		return err
	}
	defer store.Close()
	store.OnCommit = func(_ int, d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	store.OnCoalesce = prom.PersistCoalesced.Inc
	health.SetSQLiteOK(true)

	storeCtx, storeCancel := context.WithCancel(context.Background())
	storeDone := make(chan struct{})
	go func() {
		store.Run(storeCtx)
		close(storeDone)
	}()

	// Static keys from config are saved so the sqlite table stays the
	// single credential source.
	if creds := cfg.Credentials(); creds != nil {
		if err := store.SaveCredentials(ctx, cfg.UserID, *creds); err != nil {
			return err
		}
	}

	// ---- Historical bars ----
	histBreaker := breaker.New("alpaca", 5, 30*time.Second)
	histBreaker.OnStateChange = breakerHook(prom)
	var fallback history.Provider
	if cfg.History.FinnhubToken != "" {
		fallback = history.NewFinnhub(history.FinnhubConfig{
			BaseURL: cfg.History.FinnhubURL,
			Token:   cfg.History.FinnhubToken,
			Timeout: cfg.History.Timeout,
		})
	}
	fetcher := history.NewFetcher(history.NewAlpaca(history.AlpacaConfig{
		BaseURL:   cfg.History.AlpacaURL,
		Feed:      cfg.History.AlpacaFeed,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Timeout:   cfg.History.Timeout,
	}), fallback, histBreaker, log)
	fetcher.OnFetch = func(provider string, d time.Duration, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		prom.FetchDur.WithLabelValues(provider, outcome).Observe(d.Seconds())
	}
	fetcher.OnFallback = func(string) { prom.FetchFallbacks.Inc() }

	cache := candles.NewCache(fetcher, cfg.History.CacheTTL, log)
	cache.OnHit = prom.CacheHits.Inc
	cache.OnMiss = prom.CacheMisses.Inc

	engine := indicator.NewEngine(log)
	engine.OnCompute = func(k indicator.Kind, d time.Duration) {
		prom.IndicatorComputeDur.WithLabelValues(k.String()).Observe(d.Seconds())
	}
	engine.OnError = func(k indicator.Kind) { prom.IndicatorErrors.WithLabelValues(k.String()).Inc() }

	// ---- Session ----
	sess, err := session.New(ctx, session.Config{
		UserID:    cfg.UserID,
		Timeframe: cfg.Timeframe(),
		Limit:     cfg.History.Limit,
	}, session.Deps{
		Bars:        cache,
		Engine:      engine,
		Credentials: store,
		Store:       store,
		NewFeed:     feedFactory(cfg, prom, health, log),
		Log:         log,
	})
	if err != nil {
		return err
	}
	sess.SetOnDrop(func(int) { prom.SnapshotDrops.Inc() })

	if err := sess.Start(ctx); err != nil {
		var credErr *model.CredentialError
		if !errors.As(err, &credErr) {
			return err
		}
		log.Warn("live feed disabled", slog.Any("error", err))
	}

	// ---- Cross-context sync ----
	var syncBus crosssync.Bus
	var redisBus *redisstore.Bus
	if cfg.Redis.Enabled {
		health.SetRedisEnabled(true)
		redisBreaker := breaker.New("redis", 3, 10*time.Second)
		redisBreaker.OnStateChange = breakerHook(prom)
		redisBus, err = redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, redisBreaker, log)
		if err != nil {
			log.Warn("redis unavailable, syncing in-process only", slog.Any("error", err))
		} else {
			redisBus.OnBuffer = prom.SyncBuffered.Inc
			syncBus = redisBus
		}
	}
	if syncBus == nil {
		mem := crosssync.NewMemoryBus(64)
		defer mem.Close()
		syncBus = mem
	}
	syncer := crosssync.New(syncBus, sess, cfg.Sync.Interval, log)
	syncer.OnPublish = prom.SyncPublished.Inc
	syncer.OnApply = prom.SyncApplied.Inc
	syncer.OnDiscard = func(reason string) { prom.SyncDiscarded.WithLabelValues(reason).Inc() }
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync stopped", slog.Any("error", err))
		}
	}()

	// ---- Scheduler ----
	deps := scheduler.Deps{
		Cache:     cache,
		DB:        store.DB(),
		Observers: sess.ObserverStats,
		Health:    health,
		Metrics:   prom,
		Log:       log,
	}
	if redisBus != nil {
		deps.Redis = redisBus.Client()
	}
	sched := scheduler.New(ctx, deps)
	if err := sched.RegisterAll(scheduler.Config{
		SweepSpec:      cfg.Scheduler.SweepSpec,
		ProbeSpec:      cfg.Scheduler.ProbeSpec,
		SaturationSpec: cfg.Scheduler.SaturationSpec,
	}); err != nil {
		return err
	}
	sched.Start()

	// ---- Gateway ----
	gw := gateway.NewServer(sess, log)
	gw.OnCommand = func(cmd, outcome string) { prom.GatewayCommands.WithLabelValues(cmd, outcome).Inc() }
	gw.OnClients = func(n int) { prom.GatewayClients.Set(float64(n)) }
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("gateway listening", slog.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ---- Wait for shutdown signal ----
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-serveErr:
		log.Error("gateway server error", slog.Any("error", runErr))
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	httpSrv.Shutdown(shutdownCtx)
	gw.Hub().CloseAll()
	sched.Stop()
	<-syncDone
	sess.Stop()

	// Commit pending writes after the last session change.
	storeCancel()
	<-storeDone

	if redisBus != nil {
		redisBus.Close()
	}
	metricsSrv.Stop(shutdownCtx)
	return runErr
}

// feedFactory builds live connections for the session and wires their
// metrics and health hooks.
func feedFactory(cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) session.FeedFactory {
	return func(creds *model.Credentials, onStatus func(model.ConnectionStatus)) (session.Feed, error) {
		conn := feed.New(feed.Config{
			URL:            cfg.Feed.URL,
			Credentials:    creds,
			Throttle:       cfg.Feed.Throttle,
			InitialBackoff: cfg.Feed.InitialBackoff,
			MaxBackoff:     cfg.Feed.MaxBackoff,
		}, feed.WSDialer{ReadTimeout: 60 * time.Second}, log)

		conn.OnState = func(from, to feed.State) {
			prom.FeedState.Set(float64(to))
			prom.FeedStateTransition.WithLabelValues(to.String()).Inc()
			health.SetFeedConnected(to == feed.StateSubscribed)
			onStatus(to.Status())
		}
		conn.OnReconnect = func(d time.Duration) {
			prom.FeedReconnects.Inc()
			prom.FeedReconnectDelay.Observe(d.Seconds())
		}
		conn.OnProtocolError = func(error) { prom.FeedProtocolErrors.Inc() }
		conn.OnTrade = func(string) {
			prom.FeedTradesTotal.Inc()
			health.SetLastTradeTime(time.Now())
		}
		return conn, nil
	}
}

// breakerHook exports breaker transitions. 0=closed, 1=open, 2=half-open.
func breakerHook(prom *metrics.Metrics) func(name string, from, to breaker.State) {
	return func(name string, from, to breaker.State) {
		prom.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			prom.BreakerTrips.WithLabelValues(name).Inc()
		}
		slog.Warn("circuit breaker transition",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}
