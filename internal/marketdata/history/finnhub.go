package history

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"chartfeed/internal/model"
)

// FinnhubConfig configures the fallback bars provider.
type FinnhubConfig struct {
	BaseURL string // e.g. "https://finnhub.io/api/v1"
	Token   string
	Timeout time.Duration
}

// Finnhub fetches candles from {BaseURL}/stock/candle.
type Finnhub struct {
	cfg    FinnhubConfig
	client *http.Client
	now    func() time.Time
}

// NewFinnhub creates the fallback provider.
func NewFinnhub(cfg FinnhubConfig) *Finnhub {
	return &Finnhub{cfg: cfg, client: newHTTPClient(cfg.Timeout), now: time.Now}
}

func (f *Finnhub) Name() string { return "finnhub" }

// finnhubCandles is the column-oriented response. S is "ok" or "no_data".
type finnhubCandles struct {
	S string    `json:"s"`
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

func (f *Finnhub) Bars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	res, ok := Resolution(tf)
	if !ok {
		return nil, &model.ConfigError{Field: "resolution", Err: fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)}
	}

	to := f.now().Unix()
	from := to - int64(limit)*int64(tf.Duration()/time.Second)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", res)
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	q.Set("token", f.cfg.Token)
	u := fmt.Sprintf("%s/stock/candle?%s", f.cfg.BaseURL, q.Encode())

	body, err := get(ctx, f.client, f.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	var resp finnhubCandles
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("finnhub decode: %w", err)
	}
	switch resp.S {
	case "ok":
	case "no_data":
		return []model.Candle{}, nil
	default:
		return nil, fmt.Errorf("finnhub: unexpected status %q", resp.S)
	}

	n := len(resp.T)
	if len(resp.O) != n || len(resp.H) != n || len(resp.L) != n || len(resp.C) != n {
		return nil, fmt.Errorf("finnhub: ragged response (%d timestamps)", n)
	}

	out := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		var vol uint64
		if i < len(resp.V) && resp.V[i] > 0 {
			vol = uint64(resp.V[i])
		}
		out = append(out, model.Candle{
			Time:   time.Unix(resp.T[i], 0).UTC(),
			Open:   resp.O[i],
			High:   resp.H[i],
			Low:    resp.L[i],
			Close:  resp.C[i],
			Volume: vol,
			Source: model.SourceREST,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
