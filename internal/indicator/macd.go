package indicator

// MACD computes fast EMA - slow EMA, the signal EMA over the defined MACD
// values, and the histogram. Any invalid operand yields invalid.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastE := EMA(closes, fast)
	slowE := EMA(closes, slow)

	line := make(Series, len(closes))
	for i := range closes {
		if fastE[i].Valid && slowE[i].Valid {
			line[i] = Some(fastE[i].V - slowE[i].V)
		}
	}

	sig := emaOf(line, signal)
	hist := make(Series, len(closes))
	for i := range closes {
		if line[i].Valid && sig[i].Valid {
			hist[i] = Some(line[i].V - sig[i].V)
		}
	}
	return MACDResult{MACD: line, Signal: sig, Histogram: hist}
}
