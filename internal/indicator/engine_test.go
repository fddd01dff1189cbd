package indicator

import (
	"encoding/json"
	"errors"
	"testing"

	"chartfeed/internal/model"
)

func TestEngine_UnknownIndicator(t *testing.T) {
	eng := NewEngine(nil)
	res := eng.Compute(constantBars(20), []Request{{Name: "ichimoku"}})

	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res))
	}
	u, ok := res[0].Output.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown output, got %T", res[0].Output)
	}
	if u.Name != "ichimoku" || u.Kind() != KindUnknown {
		t.Errorf("unexpected unknown output %+v", u)
	}
}

func TestEngine_FailureIsolatedPerIndicator(t *testing.T) {
	eng := NewEngine(nil)
	var failed []Kind
	eng.OnError = func(k Kind) { failed = append(failed, k) }

	res := eng.Compute(constantBars(30), []Request{
		{Name: "sma", Params: map[string]float64{"period": 5}},
		{Name: "rsi", Params: map[string]float64{"period": 0}},
		{Name: "macd", Params: map[string]float64{"fast": 26, "slow": 12}},
		{Name: "atr"},
	})

	if res[0].Output == nil || res[3].Output == nil {
		t.Fatal("healthy indicators should still produce output")
	}
	for _, i := range []int{1, 2} {
		if res[i].Output != nil {
			t.Errorf("%s: expected nil output, got %T", res[i].Name, res[i].Output)
		}
		var ie *model.IndicatorError
		if !errors.As(res[i].Err, &ie) {
			t.Errorf("%s: expected IndicatorError, got %v", res[i].Name, res[i].Err)
		}
	}
	if len(failed) != 2 || failed[0] != KindRSI || failed[1] != KindMACD {
		t.Errorf("OnError calls = %v", failed)
	}
}

func TestEngine_ParamOverrides(t *testing.T) {
	eng := NewEngine(nil)
	res := eng.Compute(constantBars(10), []Request{{Name: "SMA", Params: map[string]float64{"period": 3}}})

	line, ok := res[0].Output.(Line)
	if !ok {
		t.Fatalf("expected Line, got %T", res[0].Output)
	}
	if line.K != KindSMA {
		t.Errorf("kind = %v, want sma", line.K)
	}
	assertValid(t, "SMA(3)", line.Values, 2)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if k, ok := ParseKind(" RSI "); !ok || k != KindRSI {
		t.Errorf("ParseKind should trim and lower-case, got %v %v", k, ok)
	}
	if _, ok := ParseKind("unknown"); ok {
		t.Error("unknown must not parse as a real kind")
	}
}

func TestValue_JSONNull(t *testing.T) {
	b, err := json.Marshal(Series{{}, Some(1.5)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[null,1.5]" {
		t.Errorf("got %s", b)
	}
}
