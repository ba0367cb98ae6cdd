package gateway

import (
	"math"
	"sort"

	"github.com/elPachango/bitbot/internal/ringbuf"
)

// LatencyTracker keeps the last N publish-to-broadcast latencies (ms).
type LatencyTracker struct {
	ring *ringbuf.Ring[float64]
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: ringbuf.New[float64](capacity)}
}

// Record adds a latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.ring.Push(latencyMs)
}

// Percentiles returns p50, p95, p99 latency in milliseconds, or zeros when
// nothing was recorded.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	sorted := lt.ring.Snapshot()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int {
	return lt.ring.Len()
}

// percentile interpolates the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
