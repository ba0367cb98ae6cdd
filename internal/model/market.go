package model

import "time"

// MarketStats is the dashboard price header: last price and percent change
// over the trailing 24h, 15m and 5m.
type MarketStats struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	Change15m float64   `json:"change_15m"`
	Change5m  float64   `json:"change_5m"`
	TS        time.Time `json:"ts"`
}
