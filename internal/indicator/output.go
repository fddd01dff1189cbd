package indicator

// Output is the typed result of one indicator computation. The set of
// implementations is closed: Line, MACDResult, BandsResult,
// StochasticResult, ADXResult, TrendResult and Unknown.
type Output interface {
	Kind() Kind
	output()
}

// Line is a single-series result (SMA, EMA, RSI, ATR, VWAP, volume, OBV).
type Line struct {
	K      Kind   `json:"kind"`
	Values Series `json:"values"`
}

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
}

// BandsResult holds Bollinger bands.
type BandsResult struct {
	Middle Series `json:"middle"`
	Upper  Series `json:"upper"`
	Lower  Series `json:"lower"`
}

// StochasticResult holds %K and %D.
type StochasticResult struct {
	K Series `json:"k"`
	D Series `json:"d"`
}

// ADXResult holds ADX and the directional indicators.
type ADXResult struct {
	ADX     Series `json:"adx"`
	PlusDI  Series `json:"plusDI"`
	MinusDI Series `json:"minusDI"`
}

// Direction is the trend state carried by forward-fold indicators.
type Direction int8

const (
	DirNone  Direction = 0
	DirLong  Direction = 1
	DirShort Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirLong:
		return "long"
	case DirShort:
		return "short"
	}
	return "none"
}

// TrendResult is produced by the sequential indicators (Parabolic SAR,
// Supertrend): a level per bar plus the trend direction it was computed in.
type TrendResult struct {
	K         Kind        `json:"kind"`
	Values    Series      `json:"values"`
	Direction []Direction `json:"direction"`
}

// Unknown marks a requested indicator name outside the known set.
type Unknown struct {
	Name string `json:"name"`
}

func (l Line) Kind() Kind           { return l.K }
func (MACDResult) Kind() Kind       { return KindMACD }
func (BandsResult) Kind() Kind      { return KindBollinger }
func (StochasticResult) Kind() Kind { return KindStochastic }
func (ADXResult) Kind() Kind        { return KindADX }
func (t TrendResult) Kind() Kind    { return t.K }
func (Unknown) Kind() Kind          { return KindUnknown }
func (Line) output()                {}
func (MACDResult) output()          {}
func (BandsResult) output()         {}
func (StochasticResult) output()    {}
func (ADXResult) output()           {}
func (TrendResult) output()         {}
func (Unknown) output()             {}
