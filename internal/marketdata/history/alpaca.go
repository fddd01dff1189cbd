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

// AlpacaConfig configures the primary bars provider.
type AlpacaConfig struct {
	BaseURL   string // e.g. "https://data.alpaca.markets/v2"
	Feed      string // "iex" or "sip"; empty omits the parameter
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Alpaca fetches bars from {BaseURL}/stocks/{symbol}/bars.
type Alpaca struct {
	cfg    AlpacaConfig
	client *http.Client
}

// NewAlpaca creates the primary provider.
func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	return &Alpaca{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *Alpaca) Name() string { return "alpaca" }

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V uint64    `json:"v"`
}

type alpacaBarsResponse struct {
	Bars   []alpacaBar `json:"bars"`
	Symbol string      `json:"symbol"`
}

func (a *Alpaca) Bars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("timeframe", string(tf))
	q.Set("limit", strconv.Itoa(limit))
	if a.cfg.Feed != "" {
		q.Set("feed", a.cfg.Feed)
	}
	u := fmt.Sprintf("%s/stocks/%s/bars?%s", a.cfg.BaseURL, url.PathEscape(symbol), q.Encode())

	header := http.Header{}
	header.Set("APCA-API-KEY-ID", a.cfg.APIKey)
	header.Set("APCA-API-SECRET-KEY", a.cfg.APISecret)

	body, err := get(ctx, a.client, a.Name(), u, header)
	if err != nil {
		return nil, err
	}

	var resp alpacaBarsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("alpaca decode: %w", err)
	}

	out := make([]model.Candle, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		out = append(out, model.Candle{
			Time:   b.T.UTC(),
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: b.V,
			Source: model.SourceREST,
		})
	}
	return out, nil
}
