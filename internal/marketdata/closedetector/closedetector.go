// Package closedetector detects candle closes on the REST polling path by
// watching the open time of the newest kline advance, and tells the
// dashboard when the next close is due.
package closedetector

import (
	"log"
	"time"
)

// Detector tracks the newest kline open time seen on each poll.
type Detector struct {
	interval time.Duration
	lastOpen time.Time
	lastSeen time.Time

	// MaxGrace is how long past the expected next close the feed may stay
	// silent before Overdue reports it stalled. Default: 2 minutes.
	MaxGrace time.Duration
}

// New creates a Detector for candles of the given interval.
func New(interval time.Duration) *Detector {
	return &Detector{
		interval: interval,
		MaxGrace: 2 * time.Minute,
	}
}

// Observe records the open time of the newest kline from a poll and
// returns true when it advanced, which means the previous candle closed.
// The first observation only primes the detector.
func (d *Detector) Observe(latestOpen, now time.Time) bool {
	d.lastSeen = now
	if d.lastOpen.IsZero() {
		d.lastOpen = latestOpen
		return false
	}
	if !latestOpen.After(d.lastOpen) {
		return false
	}
	skipped := int(latestOpen.Sub(d.lastOpen)/d.interval) - 1
	if skipped > 0 {
		log.Printf("[closedetector] %d candle(s) closed between polls", skipped+1)
	}
	d.lastOpen = latestOpen
	return true
}

// LastOpen returns the newest kline open time observed.
func (d *Detector) LastOpen() time.Time {
	return d.lastOpen
}

// NextClose returns the next interval boundary strictly after now.
// Binance intervals are aligned to the Unix epoch.
func (d *Detector) NextClose(now time.Time) time.Time {
	return now.Truncate(d.interval).Add(d.interval)
}

// Remaining returns the time until the next close.
func (d *Detector) Remaining(now time.Time) time.Duration {
	return d.NextClose(now).Sub(now)
}

// Overdue reports whether the newest kline is so old that at least one
// close has been missed by more than MaxGrace.
func (d *Detector) Overdue(now time.Time) bool {
	if d.lastOpen.IsZero() {
		return false
	}
	expected := d.lastOpen.Add(2 * d.interval)
	return now.After(expected.Add(d.MaxGrace))
}
