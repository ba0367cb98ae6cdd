package model

import "time"

// Tick is a last-traded-price update between candle closes.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}
