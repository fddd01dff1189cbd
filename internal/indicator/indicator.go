// Package indicator provides technical indicator calculations over candle data.
//
// Every function is pure: it maps a candle (or value) sequence plus parameters
// to output series aligned by index with the input. Output length always
// equals input length; indices without enough history are invalid (JSON null).
package indicator

import (
	"math"
	"strconv"

	"chartfeed/internal/model"
)

// Value is an optional float64. Invalid values encode as JSON null.
type Value struct {
	V     float64
	Valid bool
}

// Some returns a valid Value. NaN and Inf collapse to invalid.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, Valid: true}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.V, 'f', -1, 64), nil
}

// Series is an index-aligned sequence of optional values.
type Series []Value

// CountValid returns the number of valid entries.
func (s Series) CountValid() int {
	n := 0
	for _, v := range s {
		if v.Valid {
			n++
		}
	}
	return n
}

// Last returns the final value of the series (invalid when empty).
func (s Series) Last() Value {
	if len(s) == 0 {
		return Value{}
	}
	return s[len(s)-1]
}

// Closes extracts close prices.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// trueRange is the classic TR; index 0 has no previous close.
func trueRange(candles []model.Candle, i int) float64 {
	c := candles[i]
	tr := c.High - c.Low
	if i == 0 {
		return tr
	}
	prev := candles[i-1].Close
	return math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
}
