package session

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"chartfeed/internal/candles"
	"chartfeed/internal/model"
)

// HandleLiveUpdate is the feed listener. It replaces the symbol's quote,
// folds the trade into its candle series and recomputes indicators when the
// symbol is selected.
func (s *Session) HandleLiveUpdate(t model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t.Symbol != s.selected && !s.isWatchedLocked(t.Symbol) {
		return
	}

	s.quotes[t.Symbol] = nextQuote(s.quotes[t.Symbol], t)

	series, ok := candles.ApplyTrade(s.series[t.Symbol], t, s.cfg.Timeframe)
	if !ok {
		s.log.Debug("late trade ignored",
			slog.String("symbol", t.Symbol),
			slog.Time("trade_time", t.Time))
	} else {
		s.series[t.Symbol] = series
		if t.Symbol == s.selected {
			s.recomputeLocked()
		}
	}
	s.publishLocked()
}

// nextQuote builds the replacement quote. Change is measured against the
// previous price in decimal arithmetic; a first quote has zero change.
func nextQuote(prev model.Quote, t model.Trade) model.Quote {
	q := model.Quote{
		Symbol:    t.Symbol,
		Price:     t.Price,
		UpdatedAt: t.Time,
		Raw:       t.Raw,
	}
	if prev.Price <= 0 {
		return q
	}
	p0 := decimal.NewFromFloat(prev.Price)
	change := decimal.NewFromFloat(t.Price).Sub(p0)
	q.Change = change.InexactFloat64()
	q.ChangePercent = change.Div(p0).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
	return q
}
