// Package strategy turns Stochastic RSI readings into trade signals.
//
// The Evaluator classifies one closed-candle series; the Engine adds the
// entry-confirmation gate and remembers signals the gate deferred.
package strategy

import (
	"errors"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// Kind is a classified signal.
type Kind string

const (
	KindLong      Kind = "LONG"
	KindShort     Kind = "SHORT"
	KindExitLong  Kind = "EXIT_LONG"
	KindExitShort Kind = "EXIT_SHORT"
	KindNone      Kind = "NONE"
)

// Entry reports whether k opens a position.
func (k Kind) Entry() bool {
	return k == KindLong || k == KindShort
}

// Side returns the position side an entry or exit kind refers to.
func (k Kind) Side() (model.Side, bool) {
	switch k {
	case KindLong, KindExitLong:
		return model.SideLong, true
	case KindShort, KindExitShort:
		return model.SideShort, true
	}
	return "", false
}

// Reasons attached to NONE evaluations.
const (
	ReasonInsufficientData = "insufficient data"
	ReasonWaiting          = "waiting"
)

// ErrInvalidSide is returned by Confirm for a side other than LONG or SHORT.
var ErrInvalidSide = errors.New("strategy: invalid side")

// Evaluation is the result of classifying one closed-candle series.
// Oscillator fields are nil when there was not enough history.
type Evaluation struct {
	Symbol         string    `json:"symbol"`
	K              *float64  `json:"k"`
	D              *float64  `json:"d"`
	KPrev          *float64  `json:"k_prev"`
	DPrev          *float64  `json:"d_prev"`
	Signal         Kind      `json:"signal"`
	Reason         string    `json:"reason"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	ReferencePrice float64   `json:"reference_price"`
}

// Signal is an entry the Engine is holding until the confirmation gate
// passes. Attempts counts failed gate checks.
type Signal struct {
	Kind           Kind       `json:"kind"`
	Side           model.Side `json:"side"`
	Reason         string     `json:"reason"`
	ReferencePrice float64    `json:"reference_price"`
	EvaluatedAt    time.Time  `json:"evaluated_at"`
	Attempts       int        `json:"attempts"`
}

func ptr(v float64) *float64 { return &v }
