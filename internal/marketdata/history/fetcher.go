package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chartfeed/internal/breaker"
	"chartfeed/internal/model"
)

// Fetcher applies the provider policy: primary first; the fallback only
// when the primary reports not-found. Generic primary failures are returned
// as NetworkError without trying the fallback.
type Fetcher struct {
	primary  Provider
	fallback Provider
	breaker  *breaker.Breaker
	log      *slog.Logger

	// Metrics hooks (optional, set externally)
	OnFetch    func(provider string, d time.Duration, err error)
	OnFallback func(symbol string)
}

// NewFetcher wires the providers. fallback and br may be nil.
func NewFetcher(primary, fallback Provider, br *breaker.Breaker, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if br != nil {
		br.IsFailure = countsAsOutage
	}
	return &Fetcher{
		primary:  primary,
		fallback: fallback,
		breaker:  br,
		log:      log.With(slog.String("component", "history")),
	}
}

// countsAsOutage keeps "no data for symbol" and caller cancellation from
// tripping the primary's breaker.
func countsAsOutage(err error) bool {
	return !errors.Is(err, model.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

// FetchBars returns bars for symbol sorted as the provider returned them.
// Unsupported timeframes fail with ConfigError before any request is made.
func (f *Fetcher) FetchBars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if symbol == "" {
		return nil, &model.ConfigError{Field: "symbol", Err: model.ErrInvalidSymbol}
	}
	if !tf.Valid() {
		return nil, &model.ConfigError{Field: "timeframe", Err: fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)}
	}
	if f.fallback != nil {
		if _, ok := Resolution(tf); !ok {
			return nil, &model.ConfigError{Field: "resolution", Err: fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)}
		}
	}

	bars, err := f.fetchPrimary(ctx, symbol, tf, limit)
	if err == nil {
		return bars, nil
	}
	if !errors.Is(err, model.ErrNotFound) || f.fallback == nil {
		return nil, model.NewNetworkError("fetch bars "+symbol, err)
	}

	f.log.Warn("primary has no data, falling back",
		slog.String("symbol", symbol),
		slog.String("timeframe", string(tf)),
		slog.String("fallback", f.fallback.Name()))
	if f.OnFallback != nil {
		f.OnFallback(symbol)
	}

	start := time.Now()
	bars, ferr := f.fallback.Bars(ctx, symbol, tf, limit)
	f.observe(f.fallback.Name(), start, ferr)
	if ferr != nil {
		var cfgErr *model.ConfigError
		if errors.As(ferr, &cfgErr) {
			return nil, ferr
		}
		return nil, model.NewNetworkError("fetch bars "+symbol, fmt.Errorf("primary: %v; fallback: %w", err, ferr))
	}
	return bars, nil
}

func (f *Fetcher) fetchPrimary(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	var bars []model.Candle
	call := func() error {
		start := time.Now()
		var err error
		bars, err = f.primary.Bars(ctx, symbol, tf, limit)
		f.observe(f.primary.Name(), start, err)
		return err
	}
	if f.breaker == nil {
		return bars, call()
	}
	return bars, f.breaker.Execute(call)
}

func (f *Fetcher) observe(provider string, start time.Time, err error) {
	if f.OnFetch != nil {
		f.OnFetch(provider, time.Since(start), err)
	}
}
