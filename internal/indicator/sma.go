package indicator

// SMA calculates the Simple Moving Average over a rolling window.
// The first valid value is at index period-1.
func SMA(values []float64, period int) Series {
	out := make(Series, len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = Some(sum / float64(period))
		}
	}
	return out
}

// smaOf is SMA over an optional series: a window containing any invalid
// value yields invalid.
func smaOf(s Series, period int) Series {
	out := make(Series, len(s))
	if period <= 0 {
		return out
	}
	run := 0 // consecutive valid values ending at i
	var sum float64
	for i, v := range s {
		if !v.Valid {
			run, sum = 0, 0
			continue
		}
		run++
		sum += v.V
		if run > period {
			sum -= s[i-period].V
		}
		if run >= period {
			out[i] = Some(sum / float64(period))
		}
	}
	return out
}
