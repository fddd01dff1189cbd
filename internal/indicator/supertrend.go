package indicator

import "chartfeed/internal/model"

// Supertrend is a forward fold over ATR bands around the bar midpoint.
// Final bands only tighten while price stays inside them; the trend flips
// long when close breaks the final upper band and short when it breaks the
// final lower band. Values start where ATR becomes valid (index period).
func Supertrend(candles []model.Candle, period int, multiplier float64) TrendResult {
	n := len(candles)
	res := TrendResult{K: KindSupertrend, Values: make(Series, n), Direction: make([]Direction, n)}
	atr := ATR(candles, period)

	var upper, lower float64
	dir := DirNone
	for i := 0; i < n; i++ {
		if !atr[i].Valid {
			continue
		}
		c := candles[i]
		mid := (c.High + c.Low) / 2
		basicUpper := mid + multiplier*atr[i].V
		basicLower := mid - multiplier*atr[i].V

		if dir == DirNone {
			upper, lower = basicUpper, basicLower
			dir = DirShort
			if c.Close > upper {
				dir = DirLong
			}
		} else {
			prevClose := candles[i-1].Close
			if basicUpper < upper || prevClose > upper {
				upper = basicUpper
			}
			if basicLower > lower || prevClose < lower {
				lower = basicLower
			}
			switch {
			case dir == DirShort && c.Close > upper:
				dir = DirLong
			case dir == DirLong && c.Close < lower:
				dir = DirShort
			}
		}

		if dir == DirLong {
			res.Values[i] = Some(lower)
		} else {
			res.Values[i] = Some(upper)
		}
		res.Direction[i] = dir
	}
	return res
}
