package strategy

import (
	"fmt"

	"github.com/elPachango/bitbot/internal/indicator"
	"github.com/elPachango/bitbot/internal/model"
)

// warmupExtra is added on top of the indicator's own minimum before any
// signal is produced, so the previous reading is also well established.
const warmupExtra = 10

// Config holds the Stochastic RSI periods and the K thresholds.
type Config struct {
	Params     indicator.Params
	Oversold   float64
	Overbought float64
}

// DefaultConfig returns (15, 5, 3, 3) with thresholds 20/80.
func DefaultConfig() Config {
	return Config{
		Params:     indicator.DefaultParams(),
		Oversold:   20,
		Overbought: 80,
	}
}

// Validate checks periods and that 0 <= oversold < overbought <= 100.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.Oversold < 0 || c.Overbought > 100 || c.Oversold >= c.Overbought {
		return fmt.Errorf("strategy: thresholds must satisfy 0 <= oversold < overbought <= 100, got %.2f/%.2f",
			c.Oversold, c.Overbought)
	}
	return nil
}

// Evaluator classifies a closed-candle series into a signal.
type Evaluator struct {
	cfg Config
}

// NewEvaluator validates cfg and returns an Evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

// Config returns the evaluator's configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// MinCandles is the number of closed candles required before a signal can
// be produced.
func (e *Evaluator) MinCandles() int {
	return e.cfg.Params.MinPrices() + warmupExtra
}

// Evaluate classifies closed, which must contain closed candles only. The
// current reading is taken on the whole series and the previous one on the
// series without its last candle.
//
// Short histories yield a NONE evaluation, not an error. Malformed candles
// return a *model.MalformedInputError.
func (e *Evaluator) Evaluate(closed []model.Candle) (Evaluation, error) {
	if err := model.ValidateSeries(closed); err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Signal: KindNone, Reason: ReasonInsufficientData}
	if n := len(closed); n > 0 {
		last := closed[n-1]
		ev.Symbol = last.Symbol
		ev.EvaluatedAt = last.TS
		ev.ReferencePrice = last.Close
	}
	if len(closed) < e.MinCandles() {
		return ev, nil
	}

	closes := model.Closes(closed)
	cur := indicator.StochRSI(closes, e.cfg.Params)
	if !cur.Ready {
		return ev, nil
	}
	ev.K, ev.D = ptr(cur.K), ptr(cur.D)

	if prev := indicator.StochRSI(closes[:len(closes)-1], e.cfg.Params); prev.Ready {
		ev.KPrev, ev.DPrev = ptr(prev.K), ptr(prev.D)
	}

	ev.Signal, ev.Reason = e.classify(cur.K, ev.KPrev)
	return ev, nil
}

// classify applies the crossing rules in order; the first match wins.
func (e *Evaluator) classify(k float64, kPrev *float64) (Kind, string) {
	lo, hi := e.cfg.Oversold, e.cfg.Overbought
	if kPrev != nil {
		if *kPrev < lo && k >= lo {
			return KindLong, fmt.Sprintf("K crossed above %.0f (%.2f to %.2f)", lo, *kPrev, k)
		}
		if *kPrev > hi && k <= hi {
			return KindShort, fmt.Sprintf("K crossed below %.0f (%.2f to %.2f)", hi, *kPrev, k)
		}
	}
	if k > hi {
		return KindExitLong, fmt.Sprintf("K overbought at %.2f", k)
	}
	if k < lo {
		return KindExitShort, fmt.Sprintf("K oversold at %.2f", k)
	}
	return KindNone, ReasonWaiting
}
