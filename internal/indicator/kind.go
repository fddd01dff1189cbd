package indicator

import "strings"

// Kind is the closed set of indicator kinds. Declaration order is the
// canonical order used for active-indicator sets.
type Kind int

const (
	KindUnknown Kind = iota
	KindVolume
	KindSMA
	KindEMA
	KindMACD
	KindRSI
	KindBollinger
	KindSupertrend
	KindATR
	KindVWAP
	KindStochastic
	KindADX
	KindParabolic
	KindOBV
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindVolume:     "volume",
	KindSMA:        "sma",
	KindEMA:        "ema",
	KindMACD:       "macd",
	KindRSI:        "rsi",
	KindBollinger:  "bollinger",
	KindSupertrend: "supertrend",
	KindATR:        "atr",
	KindVWAP:       "vwap",
	KindStochastic: "stochastic",
	KindADX:        "adx",
	KindParabolic:  "parabolic",
	KindOBV:        "obv",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind maps a name to its Kind. Unrecognised names return
// KindUnknown and false.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k := KindVolume; int(k) < len(kindNames); k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Kinds returns every known kind in canonical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames)-1)
	for k := KindVolume; int(k) < len(kindNames); k++ {
		out = append(out, k)
	}
	return out
}

// Params holds named numeric parameters ("period", "fast", ...).
type Params map[string]float64

// Int returns the named parameter truncated to int, or def when absent.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// Float returns the named parameter, or def when absent.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

var defaultParams = map[Kind]Params{
	KindSMA:        {"period": 20},
	KindEMA:        {"period": 20},
	KindMACD:       {"fast": 12, "slow": 26, "signal": 9},
	KindRSI:        {"period": 14},
	KindBollinger:  {"period": 20, "stddev": 2},
	KindSupertrend: {"period": 10, "multiplier": 3},
	KindATR:        {"period": 14},
	KindStochastic: {"k": 14, "d": 3},
	KindADX:        {"period": 14},
	KindParabolic:  {"step": 0.02, "max": 0.2},
}

// DefaultParams returns a fresh copy of the default parameters for k,
// overlaid with overrides.
func DefaultParams(k Kind, overrides map[string]float64) Params {
	out := Params{}
	for key, v := range defaultParams[k] {
		out[key] = v
	}
	for key, v := range overrides {
		out[key] = v
	}
	return out
}
