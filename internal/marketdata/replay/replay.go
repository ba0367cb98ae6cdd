// Package replay streams stored candles at a configurable speed so a
// backtest can drive the same feed and trader the live bot uses.
package replay

import (
	"context"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// Replayer reads historical candles from a CandleReader and replays them.
type Replayer struct {
	reader model.CandleReader
}

// New creates a Replayer backed by the given reader.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays candles for symbol/interval after fromTS (unix ms, 0 = all)
// into outCh, oldest first. speed controls pacing: 1.0 = real-time,
// 10.0 = 10x, 0 = as fast as the consumer reads. Every emitted candle is
// marked closed. It returns the number of candles emitted.
func (r *Replayer) Run(ctx context.Context, symbol, interval string, fromTS int64, speed float64, outCh chan<- model.Candle) (int, error) {
	candles, err := r.reader.ReadCandles(symbol, interval, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Printf("[replay] no %s %s candles found", symbol, interval)
		return 0, nil
	}

	log.Printf("[replay] loaded %d %s %s candles, speed=%.1fx", len(candles), symbol, interval, speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.TS

		c.Closed = true
		select {
		case outCh <- c:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
