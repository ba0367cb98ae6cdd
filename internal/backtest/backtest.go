// Package backtest drives a Trader synchronously over archived candles.
package backtest

import (
	"context"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/execution"
	"github.com/elPachango/bitbot/internal/marketdata/feed"
	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
)

// SimClock is a ledger clock that follows replayed candle time, so opened
// and closed positions carry historical timestamps.
type SimClock struct {
	now time.Time
}

// Now returns the simulated time.
func (c *SimClock) Now() time.Time { return c.now }

// Config controls one backtest run.
type Config struct {
	Symbol  string
	History int // feed history length, default 500

	// Intrabar applies each candle's high and low as ticks before its close
	// so stops can trigger inside the bar. Bullish bars visit the low first.
	Intrabar bool

	// Clock, when set, is advanced to each candle's close time.
	Clock *SimClock

	// OnClosed is called after every evaluated candle.
	OnClosed func(c model.Candle, tr *execution.Trader)
}

// Result summarizes a run.
type Result struct {
	Candles  int                  `json:"candles"`
	Rejected int                  `json:"rejected"`
	Stats    portfolio.Statistics `json:"stats"`
	Closed   []portfolio.Position `json:"closed"`
	Open     []portfolio.Position `json:"open"`
}

// Run consumes closed candles from in until it is closed or ctx is
// cancelled. tr must not be running its own loop.
func Run(ctx context.Context, cfg Config, in <-chan model.Candle, tr *execution.Trader) (Result, error) {
	f := feed.New(cfg.Symbol, 0, cfg.History)
	var res Result

	for {
		var (
			c  model.Candle
			ok bool
		)
		select {
		case <-ctx.Done():
			return res.finish(tr), ctx.Err()
		case c, ok = <-in:
		}
		if !ok {
			return res.finish(tr), nil
		}

		c.Closed = true
		closed, err := f.Apply(c)
		if err != nil {
			res.Rejected++
			log.Printf("[backtest] skipping candle: %v", err)
			continue
		}
		if !closed {
			// Every replayed bar is final, so only a repeated bar closes nothing
			res.Rejected++
			log.Printf("[backtest] skipping repeated candle %s", c.TS.Format(time.RFC3339))
			continue
		}
		res.Candles++

		if cfg.Clock != nil {
			cfg.Clock.now = c.CloseTS
			if c.CloseTS.IsZero() {
				cfg.Clock.now = c.TS
			}
		}
		if cfg.Intrabar {
			for _, p := range extremes(c) {
				tr.OnTick(ctx, model.Tick{Symbol: c.Symbol, Price: p, TS: c.TS})
			}
		}

		snap := <-f.ClosedSnapshots()
		// Evaluation errors are counted by the trader; the replay goes on.
		_ = tr.OnClosed(ctx, snap)
		if cfg.OnClosed != nil {
			cfg.OnClosed(c, tr)
		}
	}
}

// extremes orders a bar's high and low by the likely path: a bullish bar
// dips first, a bearish one spikes first.
func extremes(c model.Candle) [2]float64 {
	if c.Close >= c.Open {
		return [2]float64{c.Low, c.High}
	}
	return [2]float64{c.High, c.Low}
}

func (r Result) finish(tr *execution.Trader) Result {
	l := tr.Ledger()
	r.Stats = l.Statistics()
	r.Closed = l.ClosedPositions()
	r.Open = l.OpenPositions()
	return r
}
