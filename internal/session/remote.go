package session

import (
	"slices"

	"chartfeed/internal/model"
)

// RemoteState is the settings slice exchanged between peer contexts. A nil
// slice means the field is absent and left untouched.
type RemoteState struct {
	ChartTypes       []model.ChartType `json:"chartTypes"`
	ActiveIndicators []string          `json:"activeIndicators"`
	Volatility       []string          `json:"volatility"`
	Combinations     []string          `json:"combinations"`
	SelectedSymbol   string            `json:"selectedSymbol,omitempty"`
}

// Equal reports whether both states carry the same values.
func (r RemoteState) Equal(o RemoteState) bool {
	return r.SelectedSymbol == o.SelectedSymbol &&
		slices.Equal(r.ChartTypes, o.ChartTypes) &&
		slices.Equal(r.ActiveIndicators, o.ActiveIndicators) &&
		slices.Equal(r.Volatility, o.Volatility) &&
		slices.Equal(r.Combinations, o.Combinations)
}

// ApplyRemote merges a peer's state last-write-wins per present field. The
// target is the peer's selected symbol, or the local selection when the
// peer has none. The local selection itself never changes. Returns the
// snapshot published for the merge.
func (s *Session) ApplyRemote(r RemoteState) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := r.SelectedSymbol
	if target == "" {
		target = s.selected
	}
	apply := func(fn func(st *model.SymbolSettings)) {
		if target == s.selected {
			s.updateTargetLocked(target, fn)
			return
		}
		// a symbol other than ours: only its stored settings change
		base, ok := s.settings[target]
		if !ok {
			base = model.DefaultSymbolSettings()
		}
		next := base.Clone()
		fn(&next)
		s.settings[target] = next
		s.persistSettingsLocked(target)
	}

	for _, t := range r.ChartTypes {
		if !t.Valid() {
			s.log.Warn("ignoring remote chart types with unsupported value")
			r.ChartTypes = nil
			break
		}
	}
	if r.ChartTypes != nil {
		apply(func(st *model.SymbolSettings) { st.ChartTypes = append([]model.ChartType{}, r.ChartTypes...) })
	}
	if r.ActiveIndicators != nil {
		apply(func(st *model.SymbolSettings) { st.Indicators = canonicalIndicators(r.ActiveIndicators) })
	}
	if r.Volatility != nil {
		apply(func(st *model.SymbolSettings) { st.Volatility = append([]string{}, r.Volatility...) })
	}
	if r.Combinations != nil {
		apply(func(st *model.SymbolSettings) { st.Combinations = append([]string{}, r.Combinations...) })
	}
	if r.ActiveIndicators != nil && target == s.selected {
		s.recomputeLocked()
	}
	s.publishLocked()
	return s.last
}
