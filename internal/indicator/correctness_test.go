package indicator

import (
	"math"
	"testing"
	"time"

	"chartfeed/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

func bar(i int, high, low, close float64, vol uint64) model.Candle {
	return model.Candle{
		Time: t0.Add(time.Duration(i) * time.Minute),
		Open: close, High: high, Low: low, Close: close,
		Volume: vol, Source: model.SourceREST,
	}
}

func closesToCandles(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = bar(i, c+0.5, c-0.5, c, 100)
	}
	return out
}

func constantBars(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = bar(i, 11, 9, 10, 100)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertValid(t *testing.T, label string, s Series, from int) {
	t.Helper()
	for i, v := range s {
		if (i >= from) != v.Valid {
			t.Errorf("%s[%d]: valid=%v, want valid from index %d", label, i, v.Valid, from)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102
	// SMA after candle 4: (102+104+103)/3 = 103
	// SMA after candle 5: (104+103+105)/3 = 104
	got := SMA([]float64{100, 102, 104, 103, 105}, 3)

	assertValid(t, "SMA(3)", got, 2)
	for i, want := range map[int]float64{2: 102, 3: 103, 4: 104} {
		assertClose(t, "SMA(3)", got[i].V, want, 0.0001)
	}
}

func TestEMA_SeedIsSMA(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15, 16}
	got := EMA(values, 5)

	assertValid(t, "EMA(5)", got, 4)
	assertClose(t, "EMA seed", got[4].V, (10+11+12+13+14)/5.0, 1e-9)
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// k = 2/(3+1) = 0.5
	// seed  = (2+4+6)/3 = 4
	// idx 3 = (8-4)*0.5 + 4 = 6
	// idx 4 = (10-6)*0.5 + 6 = 8
	got := EMA([]float64{2, 4, 6, 8, 10}, 3)

	assertClose(t, "EMA idx2", got[2].V, 4, 1e-9)
	assertClose(t, "EMA idx3", got[3].V, 6, 1e-9)
	assertClose(t, "EMA idx4", got[4].V, 8, 1e-9)
}

func TestEMA_ShortInput(t *testing.T) {
	got := EMA([]float64{1, 2}, 5)
	if len(got) != 2 || got.CountValid() != 0 {
		t.Errorf("expected 2 invalid values, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Rising1To20(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	got := RSI(closes, 14)

	if len(got) != 20 {
		t.Fatalf("expected 20 values, got %d", len(got))
	}
	assertValid(t, "RSI(14)", got, 14)
	if v := got[14].V; v < 0 || v > 100 || math.IsNaN(v) {
		t.Errorf("RSI[14] = %v, want finite value in [0,100]", v)
	}
	// No losses at all: average loss is zero.
	assertClose(t, "RSI[14]", got[14].V, 100, 1e-9)
}

func TestRSI_NullPrefix(t *testing.T) {
	closes := []float64{1, 3, 2, 4, 3, 5, 4, 6, 5, 7, 6, 8, 7, 9, 8}

	if got := RSI(closes[:14], 14); got.CountValid() != 0 {
		t.Errorf("len 14: expected no valid values, got %d", got.CountValid())
	}
	got := RSI(closes, 14)
	if got.CountValid() != 1 || !got[14].Valid {
		t.Errorf("len 15: expected exactly one valid value at index 14, got %v", got)
	}
}

func TestRSI_Correctness_Period2(t *testing.T) {
	// Deltas: +1, -1, +2
	// Seed: avgGain = (1+0)/2 = 0.5, avgLoss = (0+1)/2 = 0.5 -> RSI = 50
	// Wilder: avgGain = (0.5*1 + 2)/2 = 1.25, avgLoss = (0.5*1 + 0)/2 = 0.25
	// RS = 5 -> RSI = 100 - 100/6 = 83.3333
	got := RSI([]float64{44, 45, 44, 46}, 2)

	assertClose(t, "RSI[2]", got[2].V, 50, 1e-9)
	assertClose(t, "RSI[3]", got[3].V, 83.333333, 1e-5)
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period2(t *testing.T) {
	// TR1 = max(11-9, |11-9|, |9-9|)   = 2
	// TR2 = max(12-9, |12-10|, |9-10|) = 3
	// TR3 = max(11-10, |11-11|, |10-11|) = 1
	// seed = (2+3)/2 = 2.5 ; next = (2.5*1 + 1)/2 = 1.75
	candles := []model.Candle{
		bar(0, 10, 8, 9, 0),
		bar(1, 11, 9, 10, 0),
		bar(2, 12, 9, 11, 0),
		bar(3, 11, 10, 10, 0),
	}
	got := ATR(candles, 2)

	assertValid(t, "ATR(2)", got, 2)
	assertClose(t, "ATR[2]", got[2].V, 2.5, 1e-9)
	assertClose(t, "ATR[3]", got[3].V, 1.75, 1e-9)
}

func TestATR_ConstantRangeConverges(t *testing.T) {
	got := ATR(constantBars(40), 14)

	assertValid(t, "ATR(14)", got, 14)
	for i := 14; i < len(got); i++ {
		assertClose(t, "ATR constant", got[i].V, 2, 1e-9)
	}
}

func TestATR_NullPrefix(t *testing.T) {
	if got := ATR(constantBars(14), 14); got.CountValid() != 0 {
		t.Errorf("expected all invalid for len 14, got %d valid", got.CountValid())
	}
	got := ATR(constantBars(15), 14)
	if got.CountValid() != 1 || !got[14].Valid {
		t.Errorf("expected one valid value at index 14, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// MACD / Bollinger / Stochastic
// ────────────────────────────────────────────────────────────

func TestMACD_NullPropagation(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 5, 4, 6, 7}
	got := MACD(closes, 3, 5, 2)

	assertValid(t, "MACD line", got.MACD, 4)
	assertValid(t, "MACD signal", got.Signal, 5)
	assertValid(t, "MACD hist", got.Histogram, 5)

	// Signal seed = mean of the first two defined MACD values.
	assertClose(t, "signal seed", got.Signal[5].V, (got.MACD[4].V+got.MACD[5].V)/2, 1e-9)
	assertClose(t, "hist", got.Histogram[9].V, got.MACD[9].V-got.Signal[9].V, 1e-9)
}

func TestBollinger_PopulationStdDev(t *testing.T) {
	// mean = 3, population variance = (4+1+0+1+4)/5 = 2
	got := Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)

	assertValid(t, "upper", got.Upper, 4)
	assertClose(t, "middle", got.Middle[4].V, 3, 1e-9)
	assertClose(t, "upper", got.Upper[4].V, 3+2*math.Sqrt(2), 1e-9)
	assertClose(t, "lower", got.Lower[4].V, 3-2*math.Sqrt(2), 1e-9)
}

func TestStochastic_Correctness(t *testing.T) {
	// hh = 12, ll = 7, close = 8 -> %K = (8-7)/(12-7)*100 = 20
	candles := []model.Candle{
		bar(0, 10, 8, 9, 0),
		bar(1, 12, 9, 11, 0),
		bar(2, 11, 7, 8, 0),
	}
	got := Stochastic(candles, 3, 1)

	assertValid(t, "%K", got.K, 2)
	assertClose(t, "%K", got.K[2].V, 20, 1e-9)
	assertClose(t, "%D", got.D[2].V, 20, 1e-9)
}

func TestStochastic_FlatWindowIsZero(t *testing.T) {
	candles := make([]model.Candle, 10)
	for i := range candles {
		candles[i] = bar(i, 10, 10, 10, 0)
	}
	got := Stochastic(candles, 5, 3)

	assertValid(t, "%K", got.K, 4)
	assertValid(t, "%D", got.D, 6)
	for i := 4; i < 10; i++ {
		if got.K[i].V != 0 {
			t.Errorf("%%K[%d] = %v, want 0", i, got.K[i].V)
		}
	}
}

// ────────────────────────────────────────────────────────────
// ADX
// ────────────────────────────────────────────────────────────

func TestADX_SteadyUptrend(t *testing.T) {
	// Each bar: +DM = 1, -DM = 0, TR = 2  =>  DI+ = 50, DI- = 0, DX = 100
	candles := make([]model.Candle, 30)
	for i := range candles {
		f := float64(i)
		candles[i] = bar(i, f+2, f, f+1, 0)
	}
	got := ADX(candles, 5)

	assertValid(t, "DI+", got.PlusDI, 5)
	assertValid(t, "ADX", got.ADX, 9)
	assertClose(t, "DI+", got.PlusDI.Last().V, 50, 1e-9)
	assertClose(t, "DI-", got.MinusDI.Last().V, 0, 1e-9)
	assertClose(t, "ADX", got.ADX.Last().V, 100, 1e-9)
}

func TestADX_TrailingWindowSums(t *testing.T) {
	// period 2. Per bar (+DM, -DM, TR): 1:(2,0,3) 2:(0,0,2) 3:(0,2,4) 4:(2,0,5)
	candles := []model.Candle{
		bar(0, 10, 8, 9, 0),
		bar(1, 12, 9, 11, 0),
		bar(2, 11, 9, 10, 0),
		bar(3, 11, 7, 8, 0),
		bar(4, 13, 8, 12, 0),
	}
	got := ADX(candles, 2)

	assertValid(t, "DI+", got.PlusDI, 2)
	wantPlus := []float64{2: 40, 3: 0, 4: 200.0 / 9}
	wantMinus := []float64{2: 0, 3: 100.0 / 3, 4: 200.0 / 9}
	for i := 2; i < len(candles); i++ {
		assertClose(t, "DI+", got.PlusDI[i].V, wantPlus[i], 1e-9)
		assertClose(t, "DI-", got.MinusDI[i].V, wantMinus[i], 1e-9)
	}

	// DX: 100, 100, 0
	assertValid(t, "ADX", got.ADX, 3)
	assertClose(t, "ADX[3]", got.ADX[3].V, 100, 1e-9)
	assertClose(t, "ADX[4]", got.ADX[4].V, 50, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Forward folds
// ────────────────────────────────────────────────────────────

func TestParabolicSAR_ConstantNeverFlips(t *testing.T) {
	got := ParabolicSAR(constantBars(50), 0.02, 0.2)

	for i := 1; i < 50; i++ {
		if got.Direction[i] != DirLong {
			t.Fatalf("direction[%d] = %v, want long", i, got.Direction[i])
		}
		assertClose(t, "SAR", got.Values[i].V, 9, 1e-9)
	}
	if got.Values[0].Valid {
		t.Error("SAR[0] should be invalid")
	}
}

func TestParabolicSAR_FlipsOnCrash(t *testing.T) {
	candles := make([]model.Candle, 0, 12)
	for i := 0; i < 11; i++ {
		f := float64(10 + i)
		candles = append(candles, bar(i, f+1, f-1, f, 0))
	}
	candles = append(candles, bar(11, 6, 2, 3, 0))

	got := ParabolicSAR(candles, 0.02, 0.2)
	if got.Direction[10] != DirLong {
		t.Errorf("direction before crash = %v, want long", got.Direction[10])
	}
	if got.Direction[11] != DirShort {
		t.Errorf("direction after crash = %v, want short", got.Direction[11])
	}
	// On a flip the SAR jumps to the prior extreme point (highest high = 21).
	assertClose(t, "SAR after flip", got.Values[11].V, 21, 1e-9)
}

func TestSupertrend_ConstantStaysShort(t *testing.T) {
	// ATR = 2, mid = 10, upper = 10 + 3*2 = 16
	got := Supertrend(constantBars(30), 10, 3)

	assertValid(t, "supertrend", got.Values, 10)
	for i := 10; i < 30; i++ {
		if got.Direction[i] != DirShort {
			t.Fatalf("direction[%d] = %v, want short", i, got.Direction[i])
		}
		assertClose(t, "supertrend", got.Values[i].V, 16, 1e-9)
	}
}

func TestSupertrend_RallyTurnsLong(t *testing.T) {
	candles := make([]model.Candle, 30)
	for i := range candles {
		c := 100 + 5*float64(i)
		candles[i] = bar(i, c+1, c-1, c, 0)
	}
	got := Supertrend(candles, 3, 3)

	if got.Direction[3] != DirShort {
		t.Errorf("initial direction = %v, want short", got.Direction[3])
	}
	if got.Direction[29] != DirLong {
		t.Errorf("final direction = %v, want long", got.Direction[29])
	}
	if got.Values[29].V >= candles[29].Close {
		t.Errorf("long supertrend %.2f should sit below close %.2f", got.Values[29].V, candles[29].Close)
	}
}

// ────────────────────────────────────────────────────────────
// Volume family
// ────────────────────────────────────────────────────────────

func TestVWAP_Correctness(t *testing.T) {
	// tp1 = 10 (vol 100), tp2 = 12 (vol 300) -> (1000 + 3600) / 400 = 11.5
	candles := []model.Candle{
		bar(0, 11, 9, 10, 0),
		bar(1, 12, 8, 10, 100),
		bar(2, 13, 11, 12, 300),
	}
	got := VWAP(candles)

	if got[0].Valid {
		t.Error("VWAP should be invalid before any volume")
	}
	assertClose(t, "VWAP[1]", got[1].V, 10, 1e-9)
	assertClose(t, "VWAP[2]", got[2].V, 11.5, 1e-9)
}

func TestOBV_Correctness(t *testing.T) {
	candles := []model.Candle{
		bar(0, 10, 10, 10, 5),
		bar(1, 11, 11, 11, 6),
		bar(2, 10, 10, 10, 7),
		bar(3, 10, 10, 10, 8),
	}
	got := OBV(candles)
	for i, want := range []float64{0, 6, -1, -1} {
		assertClose(t, "OBV", got[i].V, want, 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// Shape
// ────────────────────────────────────────────────────────────

func TestAllIndicators_LengthMatchesInput(t *testing.T) {
	eng := NewEngine(nil)
	var reqs []Request
	for _, k := range Kinds() {
		reqs = append(reqs, Request{Name: k.String()})
	}

	for _, n := range []int{0, 1, 2, 5, 13, 14, 15, 27, 60} {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 100 + 10*math.Sin(float64(i)/3)
		}
		candles := closesToCandles(closes)

		for _, r := range eng.Compute(candles, reqs) {
			if r.Err != nil {
				t.Fatalf("n=%d %s: unexpected error %v", n, r.Name, r.Err)
			}
			for _, s := range seriesOf(r.Output) {
				if len(s) != n {
					t.Errorf("n=%d %s: output length %d", n, r.Name, len(s))
				}
			}
		}
	}
}

func seriesOf(o Output) []Series {
	switch v := o.(type) {
	case Line:
		return []Series{v.Values}
	case MACDResult:
		return []Series{v.MACD, v.Signal, v.Histogram}
	case BandsResult:
		return []Series{v.Middle, v.Upper, v.Lower}
	case StochasticResult:
		return []Series{v.K, v.D}
	case ADXResult:
		return []Series{v.ADX, v.PlusDI, v.MinusDI}
	case TrendResult:
		return []Series{v.Values}
	}
	return nil
}
