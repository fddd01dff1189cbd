package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"chartfeed/internal/candles"
	"chartfeed/internal/indicator"
	"chartfeed/internal/model"
)

// Watchlist

// AddToWatchlist appends symbol, creates its settings if absent and
// subscribes it on the live feed. Adding a watched symbol is a no-op.
func (s *Session) AddToWatchlist(symbol string) error {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.isWatchedLocked(sym) {
		s.mu.Unlock()
		return nil
	}
	s.watchlist = append(append([]string(nil), s.watchlist...), sym)
	if _, ok := s.settings[sym]; !ok {
		s.settings[sym] = model.DefaultSymbolSettings()
		s.persistSettingsLocked(sym)
	}
	s.persistWatchlistLocked()
	feed := s.feed
	if feed != nil {
		s.ensureQuoteLocked(sym)
	}
	s.publishLocked()
	s.mu.Unlock()

	if feed != nil {
		feed.Subscribe(sym)
	}
	s.log.Info("symbol added to watchlist", slog.String("symbol", sym))
	return nil
}

// RemoveFromWatchlist drops symbol, its settings, cache entry and candle
// buffer and unsubscribes it. The selected symbol keeps its buffer and
// subscription until it is deselected.
func (s *Session) RemoveFromWatchlist(symbol string) error {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	idx := -1
	for i, w := range s.watchlist {
		if w == sym {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s not on watchlist", model.ErrNotFound, sym)
	}
	wl := make([]string, 0, len(s.watchlist)-1)
	wl = append(wl, s.watchlist[:idx]...)
	s.watchlist = append(wl, s.watchlist[idx+1:]...)
	delete(s.settings, sym)
	s.persist(model.StateChange{Kind: model.ChangeSettingsDeleted, Symbol: sym})
	s.persistWatchlistLocked()

	keep := sym == s.selected
	if !keep {
		delete(s.series, sym)
		delete(s.quotes, sym)
	}
	feed := s.feed
	s.publishLocked()
	s.mu.Unlock()

	s.deps.Bars.Evict(sym)
	if feed != nil && !keep {
		feed.Unsubscribe(sym)
	}
	s.log.Info("symbol removed from watchlist", slog.String("symbol", sym), slog.Bool("selected", keep))
	return nil
}

// Selection

// SelectSymbol makes symbol the selected one, restores its settings (or a
// clone of the defaults), hydrates its candles through the bar cache and
// recomputes indicators. A fetch failure sets status disconnected, is
// recorded in the snapshot and returned.
func (s *Session) SelectSymbol(ctx context.Context, symbol string) error {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	s.mu.Lock()
	prev := s.selected
	st, ok := s.settings[sym]
	if !ok {
		st = model.DefaultSymbolSettings()
		s.settings[sym] = st
		s.persistSettingsLocked(sym)
	}
	s.selected = sym
	s.view = st.Clone()
	s.lastErr = ""
	dropPrev := s.releaseLocked(prev)
	feed := s.feed
	if feed != nil {
		s.ensureQuoteLocked(sym)
	}
	s.recomputeLocked()
	s.publishLocked()
	s.mu.Unlock()

	if feed != nil {
		feed.Subscribe(sym)
		if dropPrev {
			feed.Unsubscribe(prev)
		}
	}
	s.opMu.Unlock()

	bars, err := s.deps.Bars.FetchWithCache(ctx, sym, s.cfg.Timeframe, s.cfg.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != sym || s.stopped {
		// superseded by a later selection
		return err
	}
	if err != nil {
		s.status = model.StatusDisconnected
		s.lastErr = err.Error()
		s.publishLocked()
		s.log.Warn("historical load failed", slog.String("symbol", sym), slog.Any("error", err))
		return fmt.Errorf("select %s: %w", sym, err)
	}
	s.series[sym] = candles.Merge(bars, s.series[sym])
	s.status = model.StatusConnected
	s.recomputeLocked()
	s.publishLocked()
	s.log.Info("symbol selected", slog.String("symbol", sym), slog.Int("bars", len(s.series[sym])))
	return nil
}

// releaseLocked drops the buffer and quote of a deselected symbol that is
// not watched and reports whether it must be unsubscribed.
func (s *Session) releaseLocked(prev string) bool {
	if prev == "" || prev == s.selected || s.isWatchedLocked(prev) {
		return false
	}
	delete(s.series, prev)
	delete(s.quotes, prev)
	return true
}

// ClearChart resets chart types to [candlestick] and indicators to
// [volume]. Without keepSymbol the selection is also cleared.
func (s *Session) ClearChart(keepSymbol bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	cleared := model.SymbolSettings{
		ChartTypes:   []model.ChartType{model.ChartCandlestick},
		Indicators:   []string{indicator.KindVolume.String()},
		Params:       s.view.Clone().Params,
		Volatility:   []string{},
		Combinations: []string{},
	}
	prev := s.selected
	var dropPrev bool
	if keepSymbol {
		if prev != "" {
			s.settings[prev] = cleared.Clone()
			s.persistSettingsLocked(prev)
		}
	} else {
		s.selected = ""
		dropPrev = s.releaseLocked(prev)
	}
	s.view = cleared
	s.recomputeLocked()
	s.publishLocked()
	feed := s.feed
	s.mu.Unlock()

	if feed != nil && dropPrev {
		feed.Unsubscribe(prev)
	}
}

// Settings

// ToggleIndicator flips name, or sets it to *enabled when non-nil.
// Active indicators stay in canonical kind order.
func (s *Session) ToggleIndicator(name string, enabled *bool) error {
	kind, ok := indicator.ParseKind(name)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnknownIndicator, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := contains(s.view.Indicators, kind.String())
	want := !cur
	if enabled != nil {
		want = *enabled
	}
	if want == cur {
		return nil
	}
	s.updateLocked(func(st *model.SymbolSettings) {
		list := removeName(st.Indicators, kind.String())
		if want {
			list = append(list, kind.String())
		}
		st.Indicators = canonicalIndicators(list)
	})
	s.recomputeLocked()
	s.publishLocked()
	return nil
}

// ApplyPreset replaces the active indicators with a named preset. An
// unknown name is logged and ignored.
func (s *Session) ApplyPreset(name string) error {
	list, ok := presets[name]
	if !ok {
		s.log.Warn("unknown preset ignored", slog.String("preset", name))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(func(st *model.SymbolSettings) {
		st.Indicators = canonicalIndicators(list)
	})
	s.recomputeLocked()
	s.publishLocked()
	return nil
}

// SetChartTypes replaces the chart types of the current view.
func (s *Session) SetChartTypes(types []model.ChartType) error {
	for _, t := range types {
		if !t.Valid() {
			return &model.ConfigError{Field: "chartTypes", Err: fmt.Errorf("unsupported chart type %q", t)}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(func(st *model.SymbolSettings) {
		st.ChartTypes = append([]model.ChartType{}, types...)
	})
	s.publishLocked()
	return nil
}

// SetVolatility replaces the volatility selectors of the current view.
func (s *Session) SetVolatility(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(func(st *model.SymbolSettings) {
		st.Volatility = append([]string{}, names...)
	})
	s.publishLocked()
}

// SetCombinations replaces the combination selectors of the current view.
func (s *Session) SetCombinations(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(func(st *model.SymbolSettings) {
		st.Combinations = append([]string{}, names...)
	})
	s.publishLocked()
}

// SetIndicatorParams overrides parameters of one indicator. Only keys the
// indicator understands are accepted.
func (s *Session) SetIndicatorParams(name string, params map[string]float64) error {
	kind, ok := indicator.ParseKind(name)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnknownIndicator, name)
	}
	known := indicator.DefaultParams(kind, nil)
	for k := range params {
		if _, ok := known[k]; !ok {
			return &model.ConfigError{Field: name + "." + k, Err: fmt.Errorf("unknown parameter")}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(func(st *model.SymbolSettings) {
		if st.Params == nil {
			st.Params = make(map[string]map[string]float64)
		}
		p := make(map[string]float64, len(params))
		for k, v := range params {
			p[k] = v
		}
		st.Params[kind.String()] = p
	})
	s.recomputeLocked()
	s.publishLocked()
	return nil
}

// updateLocked applies fn to a fresh copy of the view and, when a symbol is
// selected, to a fresh copy of its stored settings, then persists them.
func (s *Session) updateLocked(fn func(st *model.SymbolSettings)) {
	s.updateTargetLocked(s.selected, fn)
}

// updateTargetLocked is updateLocked for an explicit target symbol. The view
// always follows. A selected target with no stored entry (removed from the
// watchlist while selected) is rebuilt from the view it was showing.
func (s *Session) updateTargetLocked(target string, fn func(st *model.SymbolSettings)) {
	prevView := s.view
	view := prevView.Clone()
	fn(&view)
	s.view = view

	if target == "" {
		return
	}
	base, ok := s.settings[target]
	if !ok {
		if target == s.selected {
			base = prevView
		} else {
			base = model.DefaultSymbolSettings()
		}
	}
	next := base.Clone()
	fn(&next)
	s.settings[target] = next
	s.persistSettingsLocked(target)
}

// recomputeLocked recalculates the view's indicators over the selected
// symbol's series.
func (s *Session) recomputeLocked() {
	if s.selected == "" {
		s.results = nil
		return
	}
	reqs := make([]indicator.Request, 0, len(s.view.Indicators))
	for _, name := range s.view.Indicators {
		reqs = append(reqs, indicator.Request{Name: name, Params: s.view.Params[name]})
	}
	s.results = s.deps.Engine.Compute(s.series[s.selected], reqs)
}

func (s *Session) ensureQuoteLocked(symbol string) {
	if _, ok := s.quotes[symbol]; !ok {
		s.quotes[symbol] = model.Quote{Symbol: symbol, UpdatedAt: s.clock().UTC()}
	}
}

// canonicalIndicators dedupes names and orders known kinds canonically.
// Unknown names are kept after the known ones in their original order.
func canonicalIndicators(names []string) []string {
	seen := make(map[string]bool, len(names))
	var kinds []indicator.Kind
	var unknown []string
	for _, n := range names {
		if k, ok := indicator.ParseKind(n); ok {
			if !seen[k.String()] {
				seen[k.String()] = true
				kinds = append(kinds, k)
			}
			continue
		}
		if !seen[n] {
			seen[n] = true
			unknown = append(unknown, n)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make([]string, 0, len(kinds)+len(unknown))
	for _, k := range kinds {
		out = append(out, k.String())
	}
	return append(out, unknown...)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func removeName(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
