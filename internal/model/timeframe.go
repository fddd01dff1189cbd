package model

import "time"

// Timeframe is a bar resolution accepted by the historical endpoints.
type Timeframe string

const (
	TF1Min  Timeframe = "1Min"
	TF5Min  Timeframe = "5Min"
	TF15Min Timeframe = "15Min"
	TF1Hour Timeframe = "1Hour"
	TF1Day  Timeframe = "1Day"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1Min:  time.Minute,
	TF5Min:  5 * time.Minute,
	TF15Min: 15 * time.Minute,
	TF1Hour: time.Hour,
	TF1Day:  24 * time.Hour,
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

// Duration returns the bucket width, or 0 for an unsupported timeframe.
func (tf Timeframe) Duration() time.Duration {
	return tfDurations[tf]
}

// Bucket truncates t to the start of its timeframe bucket (UTC).
func (tf Timeframe) Bucket(t time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}
