package model

import (
	"time"
)

// Source records where a candle came from.
type Source string

const (
	SourceREST      Source = "rest"
	SourceLive      Source = "live"
	SourceSynthetic Source = "synthetic" // live bucket with prices but no volume yet
)

// Candle is one OHLCV bucket for a single symbol.
// Time is the bucket start (UTC). Within a merged series times are unique
// and strictly increasing.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume uint64    `json:"volume"`
	Source Source    `json:"source"`
}

// Key returns the merge key: bucket start in unix milliseconds.
func (c *Candle) Key() int64 {
	return c.Time.UnixMilli()
}
