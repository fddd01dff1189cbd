// Package history retrieves historical bars over REST: Alpaca as the
// primary provider, Finnhub as the fallback when the primary has no data
// for a symbol.
package history

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"chartfeed/internal/model"
)

// Provider fetches bars from one upstream.
type Provider interface {
	Name() string
	Bars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// resolutions maps timeframes to Finnhub resolution codes.
var resolutions = map[model.Timeframe]string{
	model.TF1Min:  "1",
	model.TF5Min:  "5",
	model.TF15Min: "15",
	model.TF1Hour: "60",
	model.TF1Day:  "D",
}

// Resolution returns the fallback resolution code for tf.
func Resolution(tf model.Timeframe) (string, bool) {
	r, ok := resolutions[tf]
	return r, ok
}

const defaultTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// get performs a GET and returns the body. 404 maps to model.ErrNotFound.
func get(ctx context.Context, client *http.Client, provider, u string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s fetch: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", provider, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", provider, model.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: status %d, body: %s", provider, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
