package candles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed/internal/model"
)

func trade(at time.Duration, price float64, size uint64) model.Trade {
	return model.Trade{Symbol: "AAPL", Price: price, Size: size, Time: t0.Add(at)}
}

func TestApplyTrade_BuildsBucketCandle(t *testing.T) {
	var series []model.Candle
	var ok bool

	// Three trades in the same minute
	series, ok = ApplyTrade(series, trade(5*time.Second, 500.00, 10), model.TF1Min)
	require.True(t, ok)
	series, _ = ApplyTrade(series, trade(20*time.Second, 505.00, 20), model.TF1Min)
	series, _ = ApplyTrade(series, trade(50*time.Second, 498.00, 5), model.TF1Min)

	require.Len(t, series, 1)
	got := series[0]
	assert.Equal(t, t0, got.Time)
	assert.Equal(t, 500.00, got.Open)
	assert.Equal(t, 505.00, got.High)
	assert.Equal(t, 498.00, got.Low)
	assert.Equal(t, 498.00, got.Close)
	assert.Equal(t, uint64(35), got.Volume)
	assert.Equal(t, model.SourceLive, got.Source)
}

func TestApplyTrade_NewBucketAppends(t *testing.T) {
	series := []model.Candle{c(0, 100, model.SourceREST)}

	series, ok := ApplyTrade(series, trade(61*time.Second, 101, 3), model.TF1Min)
	require.True(t, ok)
	require.Len(t, series, 2)
	assert.Equal(t, t0.Add(time.Minute), series[1].Time)
	assert.Equal(t, 101.0, series[1].Open)
}

func TestApplyTrade_ExtendsRESTBar(t *testing.T) {
	series := []model.Candle{c(0, 100, model.SourceREST)}

	series, ok := ApplyTrade(series, trade(30*time.Second, 104, 1), model.TF1Min)
	require.True(t, ok)
	require.Len(t, series, 1)
	assert.Equal(t, 100.0, series[0].Open)
	assert.Equal(t, 104.0, series[0].High)
	assert.Equal(t, uint64(11), series[0].Volume)
}

func TestApplyTrade_LateTradeDropped(t *testing.T) {
	series := []model.Candle{c(0, 100, model.SourceREST), c(1, 101, model.SourceREST)}

	got, ok := ApplyTrade(series, trade(10*time.Second, 90, 1), model.TF1Min)
	assert.False(t, ok)
	assert.Equal(t, series, got)
}

func TestApplyTrade_DoesNotMutatePublishedSeries(t *testing.T) {
	series := []model.Candle{c(0, 100, model.SourceREST)}
	published := series

	_, _ = ApplyTrade(series, trade(30*time.Second, 150, 1), model.TF1Min)
	assert.Equal(t, 100.0, published[0].High)
}

func TestApplyTrade_ZeroSizeOpensSyntheticBucket(t *testing.T) {
	series := []model.Candle{c(0, 100, model.SourceREST)}

	series, ok := ApplyTrade(series, trade(65*time.Second, 101, 0), model.TF1Min)
	require.True(t, ok)
	require.Len(t, series, 2)
	assert.Equal(t, model.SourceSynthetic, series[1].Source)

	series, _ = ApplyTrade(series, trade(70*time.Second, 102, 0), model.TF1Min)
	assert.Equal(t, model.SourceSynthetic, series[1].Source)
	assert.Equal(t, 102.0, series[1].Close)

	series, _ = ApplyTrade(series, trade(80*time.Second, 101.5, 4), model.TF1Min)
	assert.Equal(t, model.SourceLive, series[1].Source)
	assert.Equal(t, uint64(4), series[1].Volume)
}
