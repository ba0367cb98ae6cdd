// Package feed keeps the bounded candle history the strategy evaluates.
// Updates from the stream or the poller are merged in place; every time a
// candle closes the feed emits a snapshot of the closed history.
package feed

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// ErrGap is returned by Apply when a candle skips one or more intervals.
// The caller is expected to resync the history from REST.
var ErrGap = errors.New("feed: gap in candle history")

// Feed is a bounded, ordered candle history for one symbol. The newest
// candle may still be forming; every earlier one is closed.
// It is safe for concurrent use.
type Feed struct {
	mu       sync.RWMutex
	symbol   string
	interval time.Duration
	max      int
	candles  []model.Candle

	closedCh chan []model.Candle

	// OnDrop is called when an unread snapshot is replaced by a newer one.
	OnDrop func()
}

// New creates a Feed that keeps at most maxHistory candles.
// interval is used for gap detection; zero disables it.
func New(symbol string, interval time.Duration, maxHistory int) *Feed {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &Feed{
		symbol:   symbol,
		interval: interval,
		max:      maxHistory,
		closedCh: make(chan []model.Candle, 1),
	}
}

// ClosedSnapshots returns the channel that receives the closed history after
// each close. Only the latest unread snapshot is kept.
func (f *Feed) ClosedSnapshots() <-chan []model.Candle {
	return f.closedCh
}

// Seed replaces the history with candles fetched from REST. Every candle
// except a trailing unclosed one is treated as closed. No snapshot is
// emitted; the next close triggers the first evaluation.
func (f *Feed) Seed(candles []model.Candle) error {
	if err := model.ValidateSeries(candles); err != nil {
		return fmt.Errorf("feed seed: %w", err)
	}
	out := make([]model.Candle, len(candles))
	copy(out, candles)
	for i := 0; i < len(out)-1; i++ {
		out[i].Closed = true
	}
	if len(out) > f.max {
		out = out[len(out)-f.max:]
	}

	f.mu.Lock()
	f.candles = out
	f.mu.Unlock()
	log.Printf("[feed] seeded %s with %d candles", f.symbol, len(out))
	return nil
}

// Apply merges one candle update. An update for the newest bucket replaces
// it; a later bucket is appended and implicitly closes the previous one.
// An older update for a bar still held is ignored, since that bar is final;
// any other older update is rejected with a *model.MalformedInputError. It
// reports whether any candle closed.
func (f *Feed) Apply(c model.Candle) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	if c.Symbol != "" && f.symbol != "" && c.Symbol != f.symbol {
		return false, &model.MalformedInputError{Field: "symbol", TS: c.TS, Reason: "is " + c.Symbol + ", feed is " + f.symbol}
	}

	f.mu.Lock()
	closed, err := f.merge(c)
	var snap []model.Candle
	if closed {
		snap = f.closedLocked()
	}
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if closed {
		f.emit(snap)
	}
	return closed, nil
}

func (f *Feed) merge(c model.Candle) (bool, error) {
	n := len(f.candles)
	if n == 0 {
		f.candles = append(f.candles, c)
		return c.Closed, nil
	}
	last := &f.candles[n-1]

	switch {
	case c.TS.Equal(last.TS):
		if last.Closed {
			// Late update for a bar that is already final
			return false, nil
		}
		*last = c
		return c.Closed, nil

	case c.TS.Before(last.TS):
		if f.holds(c.TS) {
			// Re-delivery of a finished bar, as in overlapping REST polls
			return false, nil
		}
		return false, &model.MalformedInputError{
			Field:  "timestamp",
			TS:     c.TS,
			Reason: "older than newest candle " + last.TS.Format(time.RFC3339) + " and not in history",
		}
	}

	if f.interval > 0 && c.TS.Sub(last.TS) > f.interval {
		return false, fmt.Errorf("%w: %s after %s", ErrGap, c.TS.Format(time.RFC3339), last.TS.Format(time.RFC3339))
	}

	closed := !last.Closed
	last.Closed = true
	f.candles = append(f.candles, c)
	if len(f.candles) > f.max {
		f.candles = f.candles[len(f.candles)-f.max:]
	}
	return closed || c.Closed, nil
}

// holds reports whether a candle opening at ts is in the history.
func (f *Feed) holds(ts time.Time) bool {
	i := sort.Search(len(f.candles), func(i int) bool { return !f.candles[i].TS.Before(ts) })
	return i < len(f.candles) && f.candles[i].TS.Equal(ts)
}

func (f *Feed) emit(snap []model.Candle) {
	select {
	case f.closedCh <- snap:
		return
	default:
	}
	// Replace the stale unread snapshot
	select {
	case <-f.closedCh:
		if f.OnDrop != nil {
			f.OnDrop()
		}
	default:
	}
	select {
	case f.closedCh <- snap:
	default:
	}
}

// Closed returns a copy of the closed candles, oldest first.
func (f *Feed) Closed() []model.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closedLocked()
}

func (f *Feed) closedLocked() []model.Candle {
	n := len(f.candles)
	if n > 0 && !f.candles[n-1].Closed {
		n--
	}
	out := make([]model.Candle, n)
	copy(out, f.candles[:n])
	return out
}

// Last returns the newest candle, forming or not.
func (f *Feed) Last() (model.Candle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.candles) == 0 {
		return model.Candle{}, false
	}
	return f.candles[len(f.candles)-1], true
}

// Len returns the number of candles held, including a forming one.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.candles)
}
