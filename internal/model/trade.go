package model

import (
	"encoding/json"
	"time"
)

// Trade is a single real-time trade print from the live feed.
// Raw keeps the provider message so pass-through fields survive.
type Trade struct {
	Symbol string          `json:"symbol"`
	Price  float64         `json:"price"`
	Size   uint64          `json:"size"`
	Time   time.Time       `json:"time"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Quote is the latest price view of a symbol. Replaced wholesale on every
// update, never merged.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         float64         `json:"price"`
	Change        float64         `json:"change"`
	ChangePercent float64         `json:"changePercent"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}
