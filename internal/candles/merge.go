// Package candles holds per-symbol candle series: the merge rule shared by
// historical and live writers, trade-to-candle folding, and the TTL cache
// in front of the historical fetcher.
package candles

import (
	"sort"

	"chartfeed/internal/model"
)

// Merge returns the union of existing and incoming keyed by candle time.
// Incoming wins on equal times; the result is sorted ascending. Neither
// input is modified, so published slices can be shared with readers.
func Merge(existing, incoming []model.Candle) []model.Candle {
	byKey := make(map[int64]model.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byKey[c.Key()] = c
	}
	for _, c := range incoming {
		byKey[c.Key()] = c
	}

	out := make([]model.Candle, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Last returns the newest candle of a sorted series.
func Last(series []model.Candle) (model.Candle, bool) {
	if len(series) == 0 {
		return model.Candle{}, false
	}
	return series[len(series)-1], true
}
