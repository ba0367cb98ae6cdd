package portfolio

import "log"

// equityTracker follows settled capital to report peak and drawdown.
type equityTracker struct {
	equity      float64
	peak        float64
	maxDrawdown float64 // percent of peak
}

func newEquityTracker(initial float64) equityTracker {
	return equityTracker{equity: initial, peak: initial}
}

// record updates the tracker after capital settles.
func (e *equityTracker) record(capital float64) {
	e.equity = capital
	if capital > e.peak {
		e.peak = capital
	}
	if dd := e.drawdown(); dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}
	log.Printf("[risk] equity: %.4f, peak: %.4f, drawdown: %.2f%%", e.equity, e.peak, e.drawdown())
}

// reset restarts tracking from capital, keeping nothing from before.
func (e *equityTracker) reset(capital float64) {
	*e = newEquityTracker(capital)
}

// drawdown is the current distance below peak in percent.
func (e *equityTracker) drawdown() float64 {
	if e.peak <= 0 {
		return 0
	}
	return (e.peak - e.equity) / e.peak * 100
}
