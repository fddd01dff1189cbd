package indicator

import "math"

// Bollinger computes the rolling mean ± k population standard deviations.
func Bollinger(closes []float64, period int, k float64) BandsResult {
	res := BandsResult{
		Middle: SMA(closes, period),
		Upper:  make(Series, len(closes)),
		Lower:  make(Series, len(closes)),
	}
	for i, mid := range res.Middle {
		if !mid.Valid {
			continue
		}
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mid.V
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		res.Upper[i] = Some(mid.V + k*sd)
		res.Lower[i] = Some(mid.V - k*sd)
	}
	return res
}
