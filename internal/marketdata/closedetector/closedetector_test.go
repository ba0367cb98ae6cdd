package closedetector

import (
	"testing"
	"time"
)

func TestDetector_DetectsAdvance(t *testing.T) {
	d := New(5 * time.Minute)
	open := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)

	// First poll only primes
	if d.Observe(open, open.Add(10*time.Second)) {
		t.Error("first observation should not report a close")
	}

	// Same candle still forming
	if d.Observe(open, open.Add(2*time.Minute)) {
		t.Error("should not report a close while the candle is forming")
	}

	// New candle appeared, previous one closed
	if !d.Observe(open.Add(5*time.Minute), open.Add(5*time.Minute+3*time.Second)) {
		t.Error("should report a close when open time advances")
	}

	// A stale response after the advance is ignored
	if d.Observe(open, open.Add(5*time.Minute+4*time.Second)) {
		t.Error("older open time must not report a close")
	}
	if !d.LastOpen().Equal(open.Add(5 * time.Minute)) {
		t.Errorf("LastOpen = %v", d.LastOpen())
	}
}

func TestDetector_NextClose(t *testing.T) {
	d := New(5 * time.Minute)
	now := time.Date(2026, 2, 26, 10, 3, 20, 0, time.UTC)

	want := time.Date(2026, 2, 26, 10, 5, 0, 0, time.UTC)
	if got := d.NextClose(now); !got.Equal(want) {
		t.Errorf("NextClose = %v, want %v", got, want)
	}
	if got := d.Remaining(now); got != 100*time.Second {
		t.Errorf("Remaining = %v, want 1m40s", got)
	}

	// Exactly on a boundary the next close is one full interval away
	if got := d.NextClose(want); !got.Equal(want.Add(5 * time.Minute)) {
		t.Errorf("NextClose on boundary = %v", got)
	}
}

func TestDetector_Overdue(t *testing.T) {
	d := New(5 * time.Minute)
	d.MaxGrace = time.Minute
	open := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)

	if d.Overdue(open.Add(time.Hour)) {
		t.Error("unprimed detector is never overdue")
	}
	d.Observe(open, open)
	if d.Overdue(open.Add(10*time.Minute + 30*time.Second)) {
		t.Error("within grace of the next expected close")
	}
	if !d.Overdue(open.Add(11*time.Minute + time.Second)) {
		t.Error("should be overdue past grace")
	}
}
