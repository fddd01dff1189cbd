package session

import "sort"

// presets are the named indicator bundles selectable in one step.
var presets = map[string][]string{
	"Trend Trader":        {"ema", "macd", "adx", "volume"},
	"Momentum Reversal":   {"rsi", "stochastic", "macd", "volume"},
	"Volatility Breakout": {"bollinger", "atr", "supertrend", "volume"},
	"Institutional Flow":  {"vwap", "volume", "ema"},
	"Swing Setup":         {"sma", "rsi", "macd", "bollinger", "volume"},
}

// Presets returns the preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
