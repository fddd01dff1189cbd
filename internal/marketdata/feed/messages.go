package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"chartfeed/internal/model"
)

type authMsg struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscriptionMsg struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
}

// serverMsg is one element of a server frame. Frames are a single object or
// an array of objects.
type serverMsg struct {
	T    string          `json:"T"`
	S    string          `json:"S"`
	P    *float64        `json:"p"`
	Size float64         `json:"s"`
	TS   json.RawMessage `json:"t"`
	Msg  string          `json:"msg"`
	Code int             `json:"code"`
}

var (
	errEmptyFrame   = errors.New("empty frame")
	errMissingField = errors.New("missing field")
)

// decodeFrame splits a frame into its elements.
func decodeFrame(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errEmptyFrame
	}
	if raw[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		return elems, nil
	}
	return []json.RawMessage{raw}, nil
}

func isTrade(t string) bool { return t == "t" || t == "trade" }

// toTrade validates a trade element. Unknown extra fields stay in Raw.
func toTrade(m serverMsg, raw []byte) (model.Trade, error) {
	if m.S == "" {
		return model.Trade{}, fmt.Errorf("%w: S", errMissingField)
	}
	if m.P == nil || *m.P <= 0 {
		return model.Trade{}, fmt.Errorf("%w: p", errMissingField)
	}
	ts, err := parseTimestamp(m.TS)
	if err != nil {
		return model.Trade{}, err
	}
	var size uint64
	if m.Size > 0 {
		size = uint64(m.Size)
	}
	return model.Trade{
		Symbol: m.S,
		Price:  *m.P,
		Size:   size,
		Time:   ts,
		Raw:    append([]byte(nil), raw...),
	}, nil
}

// parseTimestamp accepts epoch milliseconds or an RFC3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, fmt.Errorf("%w: t", errMissingField)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
		}
		return ts.UTC(), nil
	}
	ms, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %s: %w", raw, err)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
