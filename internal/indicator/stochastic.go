package indicator

import "chartfeed/internal/model"

// Stochastic computes %K over the kPeriod high/low extrema and %D as the
// SMA of %K over dPeriod. %K is 0 when the window's high equals its low.
func Stochastic(candles []model.Candle, kPeriod, dPeriod int) StochasticResult {
	k := make(Series, len(candles))
	if kPeriod > 0 {
		for i := kPeriod - 1; i < len(candles); i++ {
			hh, ll := candles[i].High, candles[i].Low
			for j := i - kPeriod + 1; j < i; j++ {
				if candles[j].High > hh {
					hh = candles[j].High
				}
				if candles[j].Low < ll {
					ll = candles[j].Low
				}
			}
			if hh == ll {
				k[i] = Some(0)
				continue
			}
			k[i] = Some(100 * (candles[i].Close - ll) / (hh - ll))
		}
	}
	return StochasticResult{K: k, D: smaOf(k, dPeriod)}
}
