package indicator

import "chartfeed/internal/model"

// ATR calculates Average True Range with Wilder's smoothing.
// True ranges are taken from index 1 (each needs a previous close); the seed
// is their simple mean over the first period bars, so the first valid value
// is at index period.
func ATR(candles []model.Candle, period int) Series {
	out := make(Series, len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += trueRange(candles, i)
	}
	p := float64(period)
	atr /= p
	out[period] = Some(atr)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*(p-1) + trueRange(candles, i)) / p
		out[i] = Some(atr)
	}
	return out
}
