package session

import (
	"time"

	"chartfeed/internal/indicator"
	"chartfeed/internal/model"
)

// Snapshot is an immutable view of the session. Slices and maps are shared
// with later snapshots only when their contents are never mutated again;
// callers must treat every field as read-only.
type Snapshot struct {
	Seq        uint64                          `json:"seq"`
	Status     model.ConnectionStatus          `json:"status"`
	Selected   string                          `json:"selectedSymbol,omitempty"`
	Watchlist  []string                        `json:"watchlist"`
	View       model.SymbolSettings            `json:"view"`
	Settings   map[string]model.SymbolSettings `json:"symbolSettings"`
	Candles    []model.Candle                  `json:"candles"`
	Indicators []indicator.Result              `json:"indicators"`
	Quotes     map[string]model.Quote          `json:"quotes"`
	Error      string                          `json:"error,omitempty"`
	UpdatedAt  time.Time                       `json:"updatedAt"`
}

// Remote extracts the part of the snapshot shared with peer contexts.
func (s Snapshot) Remote() RemoteState {
	return RemoteState{
		ChartTypes:       s.View.ChartTypes,
		ActiveIndicators: s.View.Indicators,
		Volatility:       s.View.Volatility,
		Combinations:     s.View.Combinations,
		SelectedSymbol:   s.Selected,
	}
}

// publishLocked builds the next snapshot and hands it to observers.
// Publishing under s.mu keeps observers' view in sequence order; FanOut
// never blocks.
func (s *Session) publishLocked() {
	s.seq++

	settings := make(map[string]model.SymbolSettings, len(s.settings))
	for k, v := range s.settings {
		settings[k] = v
	}
	quotes := make(map[string]model.Quote, len(s.quotes))
	for k, v := range s.quotes {
		quotes[k] = v
	}
	var candles []model.Candle
	if s.selected != "" {
		candles = s.series[s.selected]
	}

	s.last = Snapshot{
		Seq:        s.seq,
		Status:     s.status,
		Selected:   s.selected,
		Watchlist:  append([]string(nil), s.watchlist...),
		View:       s.view,
		Settings:   settings,
		Candles:    candles,
		Indicators: s.results,
		Quotes:     quotes,
		Error:      s.lastErr,
		UpdatedAt:  s.clock().UTC(),
	}
	s.fan.Publish(s.last)
}
