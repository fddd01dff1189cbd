package indicator

import "chartfeed/internal/model"

// Volume returns the raw volume series.
func Volume(candles []model.Candle) Series {
	out := make(Series, len(candles))
	for i := range candles {
		out[i] = Some(float64(candles[i].Volume))
	}
	return out
}

// VWAP is the cumulative volume-weighted typical price. Invalid until some
// volume has traded.
func VWAP(candles []model.Candle) Series {
	out := make(Series, len(candles))
	var pv, vol float64
	for i, c := range candles {
		v := float64(c.Volume)
		pv += (c.High + c.Low + c.Close) / 3 * v
		vol += v
		if vol > 0 {
			out[i] = Some(pv / vol)
		}
	}
	return out
}

// OBV is On-Balance Volume starting at 0.
func OBV(candles []model.Candle) Series {
	out := make(Series, len(candles))
	var obv float64
	for i, c := range candles {
		if i > 0 {
			switch prev := candles[i-1].Close; {
			case c.Close > prev:
				obv += float64(c.Volume)
			case c.Close < prev:
				obv -= float64(c.Volume)
			}
		}
		out[i] = Some(obv)
	}
	return out
}
