package strategy

import (
	"log"

	"github.com/elPachango/bitbot/internal/model"
)

// Decision is what the driver should do after one closed candle.
// Close is applied before Open.
type Decision struct {
	Evaluation Evaluation   `json:"evaluation"`
	Open       *model.Side  `json:"open,omitempty"`
	Close      []model.Side `json:"close,omitempty"`
	Pending    *Signal      `json:"pending,omitempty"`
	Gate       string       `json:"gate,omitempty"`
}

// Engine runs the Evaluator on each closed series and holds at most one
// entry signal that failed the confirmation gate. It is not safe for
// concurrent use; the driver serializes calls.
type Engine struct {
	evaluate   func([]model.Candle) (Evaluation, error)
	maxPending int

	pending *Signal
}

// NewEngine creates an Engine. maxPending bounds how many failed gate checks
// a deferred signal survives; 0 keeps it until it is confirmed, replaced or
// cancelled.
func NewEngine(ev *Evaluator, maxPending int) *Engine {
	if maxPending < 0 {
		maxPending = 0
	}
	return &Engine{evaluate: ev.Evaluate, maxPending: maxPending}
}

// Pending returns a copy of the deferred signal, or nil.
func (e *Engine) Pending() *Signal {
	if e.pending == nil {
		return nil
	}
	s := *e.pending
	return &s
}

// Reset drops any deferred signal.
func (e *Engine) Reset() { e.pending = nil }

// Decide evaluates closed and resolves it against the deferred signal and
// the sides currently open in the ledger. On error nothing changes.
func (e *Engine) Decide(closed []model.Candle, open map[model.Side]bool) (Decision, error) {
	ev, err := e.evaluate(closed)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Evaluation: ev}

	switch ev.Signal {
	case KindLong, KindShort:
		side, _ := ev.Signal.Side()
		if e.pending != nil {
			log.Printf("[strategy] %s replaces deferred %s", ev.Signal, e.pending.Kind)
		}
		e.pending = &Signal{
			Kind:           ev.Signal,
			Side:           side,
			Reason:         ev.Reason,
			ReferencePrice: ev.ReferencePrice,
			EvaluatedAt:    ev.EvaluatedAt,
		}
	case KindExitLong, KindExitShort:
		side, _ := ev.Signal.Side()
		if open[side] {
			d.Close = append(d.Close, side)
		}
		if e.pending != nil && e.pending.Side == side {
			log.Printf("[strategy] %s cancels deferred %s", ev.Signal, e.pending.Kind)
			e.pending = nil
		}
	}

	if e.pending == nil {
		return d, nil
	}

	side := e.pending.Side
	if open[side] {
		log.Printf("[strategy] dropping %s: side already open", e.pending.Kind)
		e.pending = nil
		return d, nil
	}

	ok, why, err := Confirm(closed, side)
	if err != nil {
		return Decision{}, err
	}
	d.Gate = why
	if ok {
		d.Open = &side
		e.pending = nil
		return d, nil
	}

	e.pending.Attempts++
	if e.maxPending > 0 && e.pending.Attempts >= e.maxPending {
		log.Printf("[strategy] deferred %s expired after %d checks", e.pending.Kind, e.pending.Attempts)
		e.pending = nil
		return d, nil
	}
	d.Pending = e.Pending()
	return d, nil
}
