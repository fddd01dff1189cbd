package indicator

// EMA calculates the Exponential Moving Average.
// Seeded with the SMA of the first period values at index period-1, then
// ema = (x - prev)*k + prev with k = 2/(period+1).
func EMA(values []float64, period int) Series {
	out := make(Series, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	k := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = Some(prev)

	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = Some(prev)
	}
	return out
}

// emaOf runs EMA over the valid tail of an optional series. Leading invalid
// values are skipped; an invalid value after the first valid one yields
// invalid at that index and leaves the running average untouched.
func emaOf(s Series, period int) Series {
	out := make(Series, len(s))
	if period <= 0 {
		return out
	}
	k := 2.0 / float64(period+1)

	seeded := false
	var n int
	var sum, prev float64
	for i, v := range s {
		if !v.Valid {
			continue
		}
		if !seeded {
			n++
			sum += v.V
			if n == period {
				prev = sum / float64(period)
				seeded = true
				out[i] = Some(prev)
			}
			continue
		}
		prev = (v.V-prev)*k + prev
		out[i] = Some(prev)
	}
	return out
}
