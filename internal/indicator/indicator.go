// Package indicator provides the oscillator math behind the strategy:
// Wilder RSI and a double-smoothed Stochastic RSI.
//
// Every function here is pure. Callers pass a slice of closing prices and
// receive a value plus a readiness flag; insufficient history is reported as
// "not ready", never as an error, and degenerate math resolves to fixed
// constants instead of dividing by zero.
package indicator

import "fmt"

// Params holds the Stochastic RSI periods. The strategy was tuned on
// (15, 5, 3, 3); charting tools default to (14, 14, 3, 3).
type Params struct {
	RSIPeriod   int `json:"rsi_period"`
	StochPeriod int `json:"stoch_period"`
	KSmooth     int `json:"k_smooth"`
	DSmooth     int `json:"d_smooth"`
}

// DefaultParams returns the strategy's tuned periods.
func DefaultParams() Params {
	return Params{RSIPeriod: 15, StochPeriod: 5, KSmooth: 3, DSmooth: 3}
}

// MinPrices is the shortest price slice StochRSI accepts.
func (p Params) MinPrices() int {
	return p.RSIPeriod + p.StochPeriod + p.KSmooth + p.DSmooth
}

// Validate rejects non-positive periods.
func (p Params) Validate() error {
	if p.RSIPeriod <= 0 || p.StochPeriod <= 0 || p.KSmooth <= 0 || p.DSmooth <= 0 {
		return fmt.Errorf("indicator: periods must be positive, got %d/%d/%d/%d",
			p.RSIPeriod, p.StochPeriod, p.KSmooth, p.DSmooth)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("StochRSI(%d,%d,%d,%d)", p.RSIPeriod, p.StochPeriod, p.KSmooth, p.DSmooth)
}

// Point is one Stochastic RSI reading. K and D are only meaningful when
// Ready is true; both lie in [0, 100].
type Point struct {
	K     float64 `json:"k"`
	D     float64 `json:"d"`
	Ready bool    `json:"ready"`
}
