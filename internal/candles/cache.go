package candles

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chartfeed/internal/model"
)

// DefaultTTL is how long fetched bars short-circuit the REST fetch.
const DefaultTTL = 5 * time.Minute

// Fetcher retrieves historical bars. Implemented by history.Fetcher.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Entry is one cached fetch result.
type Entry struct {
	LastFetchedAt time.Time
	Timeframe     model.Timeframe
	Bars          []model.Candle
}

// slot guards one symbol. Its mutex is held across a fetch so concurrent
// callers for the same symbol share a single request.
type slot struct {
	mu    sync.Mutex
	entry *Entry
}

// Cache is a per-symbol TTL cache of historical bars.
// Lookups for different symbols never wait on each other.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot

	// Metrics hooks (optional, set externally)
	OnHit  func()
	OnMiss func()
}

// NewCache creates a cache in front of f. ttl <= 0 uses DefaultTTL.
func NewCache(f Fetcher, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		fetcher: f,
		ttl:     ttl,
		now:     time.Now,
		log:     log.With(slog.String("component", "candle_cache")),
		slots:   make(map[string]*slot),
	}
}

func (c *Cache) slot(symbol string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[symbol]
	if !ok {
		s = &slot{}
		c.slots[symbol] = s
	}
	return s
}

// FetchWithCache returns cached bars younger than the TTL for the same
// timeframe; otherwise it fetches and repopulates the entry. A failed fetch
// leaves any existing entry in place (see Stale).
func (c *Cache) FetchWithCache(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	s := c.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entry; e != nil && e.Timeframe == tf && c.now().Sub(e.LastFetchedAt) < c.ttl {
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.Bars, nil
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	bars, err := c.fetcher.FetchBars(ctx, symbol, tf, limit)
	if err != nil {
		return nil, err
	}
	bars = Merge(nil, bars)
	s.entry = &Entry{LastFetchedAt: c.now(), Timeframe: tf, Bars: bars}
	c.log.Debug("cache populated",
		slog.String("symbol", symbol),
		slog.String("timeframe", string(tf)),
		slog.Int("bars", len(bars)))
	return bars, nil
}

// Stale returns the entry for symbol regardless of age.
func (c *Cache) Stale(symbol string) (Entry, bool) {
	c.mu.Lock()
	s, ok := c.slots[symbol]
	c.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}

// Evict drops symbol's entry.
func (c *Cache) Evict(symbol string) {
	c.mu.Lock()
	delete(c.slots, symbol)
	c.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed. Slots with
// a fetch in flight are skipped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for sym, s := range c.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.entry == nil || now.Sub(s.entry.LastFetchedAt) >= c.ttl {
			delete(c.slots, sym)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of symbols with a slot.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
