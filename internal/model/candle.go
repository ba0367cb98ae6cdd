package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle is one OHLCV bar for a single instrument.
// TS is the bucket open time (UTC). Closed marks a bar the exchange has
// finalized; the newest bar in a feed may still be forming.
type Candle struct {
	Symbol  string    `json:"symbol"`
	TS      time.Time `json:"ts"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	CloseTS time.Time `json:"close_ts"`
	Closed  bool      `json:"closed"`
}

// Validate checks that the candle carries every required field with a
// finite, positive price.
func (c *Candle) Validate() error {
	if c.TS.IsZero() {
		return &MalformedInputError{Field: "timestamp", Reason: "missing"}
	}
	prices := [...]struct {
		name string
		v    float64
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}}
	for _, p := range prices {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) || p.v <= 0 {
			return &MalformedInputError{Field: p.name, TS: c.TS, Reason: "must be a finite positive price"}
		}
	}
	if c.Volume < 0 || math.IsNaN(c.Volume) {
		return &MalformedInputError{Field: "volume", TS: c.TS, Reason: "must be non-negative"}
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ValidateSeries checks every candle and enforces strictly increasing
// timestamps. A nil error means the slice is a well-formed PriceSeries.
func ValidateSeries(candles []Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		if i > 0 && !candles[i].TS.After(candles[i-1].TS) {
			return &MalformedInputError{
				Field:  "timestamp",
				TS:     candles[i].TS,
				Reason: "not strictly after " + candles[i-1].TS.Format(time.RFC3339),
			}
		}
	}
	return nil
}

// Closes extracts the close prices of candles in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
