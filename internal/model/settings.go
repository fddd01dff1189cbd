package model

// ChartType is one of the supported chart renderings.
type ChartType string

const (
	ChartCandlestick ChartType = "candlestick"
	ChartOHLC        ChartType = "ohlc"
	ChartLine        ChartType = "line"
	ChartMountain    ChartType = "mountain"
	ChartHeikinAshi  ChartType = "heikin-ashi"
)

// Valid reports whether c names a supported chart type.
func (c ChartType) Valid() bool {
	switch c {
	case ChartCandlestick, ChartOHLC, ChartLine, ChartMountain, ChartHeikinAshi:
		return true
	}
	return false
}

// SymbolSettings is the per-symbol chart configuration.
// Indicators holds canonical indicator names; Params holds per-indicator
// parameter overrides (indicator -> param -> value).
type SymbolSettings struct {
	ChartTypes   []ChartType                   `json:"chartTypes"`
	Indicators   []string                      `json:"indicators"`
	Params       map[string]map[string]float64 `json:"params,omitempty"`
	Volatility   []string                      `json:"volatility"`
	Combinations []string                      `json:"combinations"`
}

// DefaultSymbolSettings returns the process-wide default settings.
func DefaultSymbolSettings() SymbolSettings {
	return SymbolSettings{
		ChartTypes:   []ChartType{ChartCandlestick},
		Indicators:   []string{"volume", "sma"},
		Volatility:   []string{},
		Combinations: []string{},
	}
}

// Clone returns a deep copy so callers never share backing arrays.
func (s SymbolSettings) Clone() SymbolSettings {
	out := SymbolSettings{
		ChartTypes:   append([]ChartType{}, s.ChartTypes...),
		Indicators:   append([]string{}, s.Indicators...),
		Volatility:   append([]string{}, s.Volatility...),
		Combinations: append([]string{}, s.Combinations...),
	}
	if len(s.Params) > 0 {
		out.Params = make(map[string]map[string]float64, len(s.Params))
		for name, p := range s.Params {
			cp := make(map[string]float64, len(p))
			for k, v := range p {
				cp[k] = v
			}
			out.Params[name] = cp
		}
	}
	return out
}

// Credentials are the provider API keys for one user.
type Credentials struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}
