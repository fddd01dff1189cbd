package indicator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"chartfeed/internal/model"
)

// Request asks the engine for one indicator by name with parameter overrides.
type Request struct {
	Name   string
	Params map[string]float64
}

// Result pairs a request name with its output. Output is nil when the
// indicator failed; Err then holds an *model.IndicatorError.
type Result struct {
	Name   string
	Output Output
	Err    error
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Name   string `json:"name"`
		Output Output `json:"output,omitempty"`
		Error  string `json:"error,omitempty"`
	}{Name: r.Name, Output: r.Output}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Engine dispatches indicator requests over a candle series.
// Stateless apart from its hooks; safe for concurrent use.
type Engine struct {
	log *slog.Logger

	// Metrics hooks (optional, set externally)
	OnCompute func(kind Kind, d time.Duration)
	OnError   func(kind Kind)
}

// NewEngine creates an engine that logs failures to log.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With(slog.String("component", "indicator"))}
}

// Compute evaluates every request against candles. A failing indicator
// yields a nil Output for that request only.
func (e *Engine) Compute(candles []model.Candle, reqs []Request) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		kind, ok := ParseKind(req.Name)
		if !ok {
			results = append(results, Result{Name: req.Name, Output: Unknown{Name: req.Name}})
			continue
		}

		start := time.Now()
		out, err := e.computeOne(candles, kind, DefaultParams(kind, req.Params))
		if e.OnCompute != nil {
			e.OnCompute(kind, time.Since(start))
		}
		if err != nil {
			e.log.Warn("indicator computation failed",
				slog.String("indicator", kind.String()),
				slog.Int("candles", len(candles)),
				slog.Any("error", err))
			if e.OnError != nil {
				e.OnError(kind)
			}
			results = append(results, Result{Name: kind.String(), Err: err})
			continue
		}
		results = append(results, Result{Name: kind.String(), Output: out})
	}
	return results
}

// computeOne recovers from panics so one bad indicator never takes down a batch.
func (e *Engine) computeOne(candles []model.Candle, kind Kind, p Params) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &model.IndicatorError{Indicator: kind.String(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := validate(kind, p); err != nil {
		return nil, &model.IndicatorError{Indicator: kind.String(), Err: err}
	}

	switch kind {
	case KindVolume:
		return Line{K: kind, Values: Volume(candles)}, nil
	case KindSMA:
		return Line{K: kind, Values: SMA(Closes(candles), p.Int("period", 20))}, nil
	case KindEMA:
		return Line{K: kind, Values: EMA(Closes(candles), p.Int("period", 20))}, nil
	case KindMACD:
		return MACD(Closes(candles), p.Int("fast", 12), p.Int("slow", 26), p.Int("signal", 9)), nil
	case KindRSI:
		return Line{K: kind, Values: RSI(Closes(candles), p.Int("period", 14))}, nil
	case KindBollinger:
		return Bollinger(Closes(candles), p.Int("period", 20), p.Float("stddev", 2)), nil
	case KindSupertrend:
		return Supertrend(candles, p.Int("period", 10), p.Float("multiplier", 3)), nil
	case KindATR:
		return Line{K: kind, Values: ATR(candles, p.Int("period", 14))}, nil
	case KindVWAP:
		return Line{K: kind, Values: VWAP(candles)}, nil
	case KindStochastic:
		return Stochastic(candles, p.Int("k", 14), p.Int("d", 3)), nil
	case KindADX:
		return ADX(candles, p.Int("period", 14)), nil
	case KindParabolic:
		return ParabolicSAR(candles, p.Float("step", 0.02), p.Float("max", 0.2)), nil
	case KindOBV:
		return Line{K: kind, Values: OBV(candles)}, nil
	}
	return Unknown{Name: kind.String()}, nil
}

// validate rejects non-positive windows and inverted MACD/SAR parameters.
func validate(kind Kind, p Params) error {
	for _, key := range []string{"period", "fast", "slow", "signal", "k", "d"} {
		if v, ok := p[key]; ok && int(v) < 1 {
			return fmt.Errorf("%s must be >= 1, got %v", key, v)
		}
	}
	switch kind {
	case KindMACD:
		if p.Int("fast", 12) >= p.Int("slow", 26) {
			return fmt.Errorf("fast period must be below slow period")
		}
	case KindParabolic:
		if step, maxStep := p.Float("step", 0.02), p.Float("max", 0.2); step <= 0 || maxStep < step {
			return fmt.Errorf("invalid step %v / max %v", step, maxStep)
		}
	}
	return nil
}
