package indicator

import (
	"math"

	"chartfeed/internal/model"
)

// ParabolicSAR is a forward fold carrying trend, extreme point and
// acceleration factor from bar to bar. The initial trend is long when the
// second close is not below the first. Each new SAR is clamped to the two
// prior bars' extremes and the trend flips only when price strictly
// penetrates it, so a constant-range series never flips.
func ParabolicSAR(candles []model.Candle, step, maxStep float64) TrendResult {
	n := len(candles)
	res := TrendResult{K: KindParabolic, Values: make(Series, n), Direction: make([]Direction, n)}
	if n < 2 || step <= 0 || maxStep < step {
		return res
	}

	dir := DirLong
	if candles[1].Close < candles[0].Close {
		dir = DirShort
	}
	var sar, ep float64
	if dir == DirLong {
		sar = candles[0].Low
		ep = math.Max(candles[0].High, candles[1].High)
	} else {
		sar = candles[0].High
		ep = math.Min(candles[0].Low, candles[1].Low)
	}
	af := step
	res.Values[1] = Some(sar)
	res.Direction[1] = dir

	for i := 2; i < n; i++ {
		c := candles[i]
		next := sar + af*(ep-sar)

		if dir == DirLong {
			next = math.Min(next, math.Min(candles[i-1].Low, candles[i-2].Low))
			if c.Low < next {
				dir, next, ep, af = DirShort, ep, c.Low, step
			} else if c.High > ep {
				ep = c.High
				af = math.Min(af+step, maxStep)
			}
		} else {
			next = math.Max(next, math.Max(candles[i-1].High, candles[i-2].High))
			if c.High > next {
				dir, next, ep, af = DirLong, ep, c.High, step
			} else if c.Low < ep {
				ep = c.Low
				af = math.Min(af+step, maxStep)
			}
		}

		sar = next
		res.Values[i] = Some(sar)
		res.Direction[i] = dir
	}
	return res
}
