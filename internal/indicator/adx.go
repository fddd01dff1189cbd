package indicator

import (
	"math"

	"chartfeed/internal/model"
)

// ADX computes the Average Directional Index and DI±.
// +DM/-DM and true range are summed over the trailing period bars (from
// index 1), so DI± are first valid at index period. DX = 100·|DI+ - DI-|/(DI+ + DI-), 0 when both are 0.
// ADX is the rolling mean of period DX values (first valid at 2·period-1).
func ADX(candles []model.Candle, period int) ADXResult {
	n := len(candles)
	res := ADXResult{
		ADX:     make(Series, n),
		PlusDI:  make(Series, n),
		MinusDI: make(Series, n),
	}
	if period <= 0 || n < period+1 {
		return res
	}

	dx := make(Series, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	var sTR, sPlus, sMinus float64
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(candles, i)

		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
		if i > period {
			// Slide the window: drop the bar that fell out
			sTR -= tr[i-period]
			sPlus -= plusDM[i-period]
			sMinus -= minusDM[i-period]
		}
		if i < period {
			continue
		}

		var pdi, mdi float64
		if sTR > 0 {
			pdi = 100 * sPlus / sTR
			mdi = 100 * sMinus / sTR
		}
		res.PlusDI[i] = Some(pdi)
		res.MinusDI[i] = Some(mdi)

		if sum := pdi + mdi; sum > 0 {
			dx[i] = Some(100 * math.Abs(pdi-mdi) / sum)
		} else {
			dx[i] = Some(0)
		}
	}
	res.ADX = smaOf(dx, period)
	return res
}
