package execution

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/elPachango/bitbot/internal/portfolio"
)

// do runs fn on the Run goroutine and waits for it. A command either runs
// to completion and returns nil, or never runs and returns ctx.Err(): once
// fn has started the caller waits for it even if ctx expires.
func (t *Trader) do(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	done := make(chan struct{})
	cmd := func() {
		if ctx.Err() != nil || !state.CompareAndSwap(queued, running) {
			return
		}
		fn()
		close(done)
	}

	select {
	case t.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

// SetPaused pauses or resumes new entries. Stops and exit signals are
// still applied while paused. Returns the resulting state.
func (t *Trader) SetPaused(ctx context.Context, paused bool) (bool, error) {
	var out bool
	err := t.do(ctx, func() {
		t.setPaused(ctx, paused)
		out = t.paused
	})
	return out, err
}

// TogglePause flips the paused flag.
func (t *Trader) TogglePause(ctx context.Context) (bool, error) {
	var out bool
	err := t.do(ctx, func() {
		t.setPaused(ctx, !t.paused)
		out = t.paused
	})
	return out, err
}

func (t *Trader) setPaused(ctx context.Context, paused bool) {
	if t.paused == paused {
		return
	}
	t.paused = paused
	log.Printf("[trader] paused=%v", paused)
	t.publishState(ctx)
}

// CloseAll closes every open position. A price <= 0 uses the last seen
// price.
func (t *Trader) CloseAll(ctx context.Context, price float64) ([]portfolio.Position, error) {
	var (
		out  []portfolio.Position
		cerr error
	)
	err := t.do(ctx, func() {
		if price <= 0 {
			price = t.price
		}
		if price <= 0 {
			cerr = fmt.Errorf("close all: no price seen yet")
			return
		}
		for _, p := range t.ledger.OpenPositions() {
			closed, err := t.closeID(ctx, p.ID, price, "Manual")
			if err != nil {
				cerr = err
				return
			}
			out = append(out, closed)
		}
		t.publishState(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out, cerr
}

// AdjustCapital replaces the ledger's capital balance. Refused while
// positions are open.
func (t *Trader) AdjustCapital(ctx context.Context, value float64) error {
	var cerr error
	err := t.do(ctx, func() {
		if cerr = t.ledger.AdjustCapital(value); cerr != nil {
			return
		}
		log.Printf("[trader] capital adjusted to %.2f", value)
		if cs, ok := t.store.(CapitalStore); ok {
			adj := portfolio.CapitalAdjustment{Capital: value, At: t.ledger.Config().Clock()}
			if err := cs.RecordCapital(adj); err != nil {
				log.Printf("[trader] journal capital write failed: %v", err)
			}
		}
		t.refreshGauges()
		t.publishState(ctx)
	})
	if err != nil {
		return err
	}
	return cerr
}

// Snapshot returns the current dashboard state.
func (t *Trader) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := t.do(ctx, func() { st = t.state() })
	return st, err
}

// ClosedPositions returns the ledger's closed log.
func (t *Trader) ClosedPositions(ctx context.Context) ([]portfolio.Position, error) {
	var out []portfolio.Position
	err := t.do(ctx, func() { out = t.ledger.ClosedPositions() })
	return out, err
}

// Statistics returns the ledger statistics.
func (t *Trader) Statistics(ctx context.Context) (portfolio.Statistics, error) {
	var out portfolio.Statistics
	err := t.do(ctx, func() { out = t.ledger.Statistics() })
	return out, err
}
