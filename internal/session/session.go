// Package session orchestrates one user's chart session: the watchlist, the
// selected symbol, per-symbol settings, candle buffers, quotes and indicator
// results. Every command publishes a new immutable Snapshot to observers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chartfeed/internal/bus"
	"chartfeed/internal/indicator"
	"chartfeed/internal/model"
)

const (
	DefaultTimeframe = model.TF1Min
	DefaultLimit     = 500
)

// Feed is the live trade stream the session drives.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	AddListener(fn func(model.Trade)) (remove func())
}

// FeedFactory builds a feed for the loaded credentials. onStatus must be
// called with every connection status change.
type FeedFactory func(creds *model.Credentials, onStatus func(model.ConnectionStatus)) (Feed, error)

// Bars is the cached historical bar source.
type Bars interface {
	FetchWithCache(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
	Evict(symbol string)
}

// Config configures a Session.
type Config struct {
	UserID    string
	Timeframe model.Timeframe
	Limit     int
}

// Deps are the collaborators of a Session. Store may be nil.
type Deps struct {
	Bars        Bars
	Engine      *indicator.Engine
	Credentials model.CredentialProvider
	Store       model.StateStore
	NewFeed     FeedFactory
	Log         *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	fan   *bus.FanOut[Snapshot]
	clock func() time.Time

	// opMu serializes commands that touch the feed so subscribe and
	// unsubscribe calls reach it in state order.
	opMu sync.Mutex

	mu        sync.Mutex
	status    model.ConnectionStatus
	selected  string
	watchlist []string
	settings  map[string]model.SymbolSettings
	view      model.SymbolSettings
	series    map[string][]model.Candle
	quotes    map[string]model.Quote
	results   []indicator.Result
	lastErr   string
	seq       uint64
	last      Snapshot
	feed      Feed
	unlisten  func()
	stopped   bool
}

// New creates a session and loads any persisted watchlist and settings.
func New(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}
	if !cfg.Timeframe.Valid() {
		return nil, &model.ConfigError{Field: "timeframe", Err: model.ErrUnsupportedTimeframe}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if deps.Bars == nil {
		return nil, &model.ConfigError{Field: "bars", Err: errors.New("bar source is required")}
	}
	if deps.Engine == nil {
		deps.Engine = indicator.NewEngine(deps.Log)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		log:      log.With(slog.String("component", "session"), slog.String("user_id", cfg.UserID)),
		fan:      bus.New[Snapshot](),
		clock:    time.Now,
		status:   model.StatusDisconnected,
		settings: make(map[string]model.SymbolSettings),
		view:     model.DefaultSymbolSettings(),
		series:   make(map[string][]model.Candle),
		quotes:   make(map[string]model.Quote),
	}

	if deps.Store != nil {
		wl, err := deps.Store.LoadWatchlist(ctx)
		if err != nil {
			return nil, fmt.Errorf("load watchlist: %w", err)
		}
		settings, err := deps.Store.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		for _, sym := range wl {
			if !s.isWatchedLocked(sym) {
				s.watchlist = append(s.watchlist, sym)
			}
		}
		for sym, st := range settings {
			st.Indicators = canonicalIndicators(st.Indicators)
			s.settings[sym] = st
		}
		s.log.Info("session state loaded",
			slog.Int("watchlist", len(s.watchlist)),
			slog.Int("settings", len(s.settings)))
	}

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

// SetOnDrop reports snapshots discarded for slow observers.
func (s *Session) SetOnDrop(fn func(observer int)) { s.fan.OnDrop = fn }

// ObserverStats reports buffer fill for each snapshot observer.
func (s *Session) ObserverStats() []bus.ChannelStat { return s.fan.ChannelStats() }

// Start loads the user's credentials and starts the live feed. Missing
// credentials set status error and return a *model.CredentialError; the
// session stays usable for cached data and is not retried.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("session stopped")
	}
	if s.feed != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var (
		creds *model.Credentials
		err   error
	)
	if s.deps.Credentials != nil {
		creds, err = s.deps.Credentials.Keys(ctx, s.cfg.UserID)
	}
	if err == nil && (creds == nil || creds.APIKey == "" || creds.APISecret == "") {
		err = &model.CredentialError{UserID: s.cfg.UserID}
	}
	if err != nil {
		var cerr *model.CredentialError
		if !errors.As(err, &cerr) {
			err = &model.CredentialError{UserID: s.cfg.UserID, Err: err}
		}
		s.log.Error("live feed not started", slog.Any("error", err))
		s.mu.Lock()
		s.status = model.StatusError
		s.lastErr = err.Error()
		s.publishLocked()
		s.mu.Unlock()
		return err
	}

	feed, err := s.deps.NewFeed(creds, s.setStatus)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	unlisten := feed.AddListener(s.HandleLiveUpdate)

	s.mu.Lock()
	s.feed = feed
	s.unlisten = unlisten
	s.status = model.StatusReconnecting
	syms := s.subscribedLocked()
	for _, sym := range syms {
		s.ensureQuoteLocked(sym)
	}
	s.publishLocked()
	s.mu.Unlock()

	for _, sym := range syms {
		feed.Subscribe(sym)
	}
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	s.log.Info("live feed started", slog.Int("symbols", len(syms)))
	return nil
}

// Stop tears down the live feed and closes every observer channel.
func (s *Session) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	feed, unlisten := s.feed, s.unlisten
	s.feed, s.unlisten = nil, nil
	s.status = model.StatusDisconnected
	s.publishLocked()
	s.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	if feed != nil {
		feed.Stop()
	}
	s.fan.Close()
	s.log.Info("session stopped")
}

// Watch returns a channel of snapshots. When the observer falls behind,
// older snapshots are discarded so the latest one is always delivered.
func (s *Session) Watch(buffer int) (<-chan Snapshot, func()) {
	return s.fan.Subscribe(buffer)
}

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// setStatus is the feed status hook.
func (s *Session) setStatus(st model.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.status == st {
		return
	}
	s.status = st
	if st == model.StatusConnected {
		s.lastErr = ""
	}
	s.publishLocked()
}

func (s *Session) currentFeed() Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

// subscribedLocked returns the symbols that must be subscribed: the
// watchlist plus the selected symbol.
func (s *Session) subscribedLocked() []string {
	out := append([]string(nil), s.watchlist...)
	if s.selected != "" && !s.isWatchedLocked(s.selected) {
		out = append(out, s.selected)
	}
	return out
}

func (s *Session) isWatchedLocked(symbol string) bool {
	for _, w := range s.watchlist {
		if w == symbol {
			return true
		}
	}
	return false
}

func (s *Session) persist(change model.StateChange) {
	if s.deps.Store != nil {
		s.deps.Store.Persist(change)
	}
}

func (s *Session) persistSettingsLocked(symbol string) {
	st, ok := s.settings[symbol]
	if !ok {
		return
	}
	s.persist(model.StateChange{Kind: model.ChangeSettings, Symbol: symbol, Settings: st.Clone()})
}

func (s *Session) persistWatchlistLocked() {
	s.persist(model.StateChange{Kind: model.ChangeWatchlist, Watchlist: append([]string(nil), s.watchlist...)})
}

// normalizeSymbol upper-cases and validates a ticker symbol.
func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > 16 || strings.ContainsAny(symbol, " /?#&") {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidSymbol, symbol)
	}
	return symbol, nil
}
