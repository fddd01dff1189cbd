package candles

import (
	"chartfeed/internal/model"
)

// ApplyTrade folds a trade into series and returns the new series.
//
// The trade is bucketed to tf. A trade in a new bucket starts a live candle
// with o=h=l=c=price; a trade in the newest bucket extends it (high, low,
// close, volume). Trades older than the newest bucket are late and dropped:
// the series is returned unchanged with ok=false.
//
// A bucket opened by a zero-size print carries no traded volume and is
// tagged synthetic until a sized trade lands in it.
func ApplyTrade(series []model.Candle, t model.Trade, tf model.Timeframe) (out []model.Candle, ok bool) {
	if t.Price <= 0 || t.Time.IsZero() {
		return series, false
	}
	bucket := tf.Bucket(t.Time)

	last, exists := Last(series)
	if exists && bucket.Before(last.Time) {
		// Late trade, belongs to an older bucket
		return series, false
	}

	var c model.Candle
	if exists && bucket.Equal(last.Time) {
		c = last
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += t.Size
		if t.Size > 0 || c.Source != model.SourceSynthetic {
			c.Source = model.SourceLive
		}
	} else {
		c = model.Candle{
			Time:   bucket,
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.Size,
			Source: model.SourceLive,
		}
		if t.Size == 0 {
			c.Source = model.SourceSynthetic
		}
	}
	return Merge(series, []model.Candle{c}), true
}
