package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// The seed is the simple average of the first period gains/losses, so the
// first valid value is at index period. Zero average loss yields 100.
func RSI(closes []float64, period int) Series {
	out := make(Series, len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = Some(rsiValue(avgGain, avgLoss))

	// Wilder's smoothing: avg = (prevAvg*(period-1) + current) / period
	for i := period + 1; i < len(closes); i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = Some(rsiValue(avgGain, avgLoss))
	}
	return out
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
