// Package ringbuf provides a fixed-capacity ring that overwrites its oldest
// entry when full. The gateway keeps recent envelopes and latency samples
// in it.
package ringbuf

import "sync"

// Ring is a bounded FIFO of T. Push never blocks or fails; once the ring is
// full each push evicts the oldest value. Safe for concurrent use.
type Ring[T any] struct {
	mu      sync.RWMutex
	buf     []T
	pos     int // next write position
	full    bool
	evicted uint64
}

// New creates a ring holding at most capacity values (minimum 1).
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	if r.full {
		r.evicted++
	}
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns the held values, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]T, r.pos)
		copy(out, r.buf[:r.pos])
		return out
	}
	out := make([]T, len(r.buf))
	n := copy(out, r.buf[r.pos:])
	copy(out[n:], r.buf[:r.pos])
	return out
}

// Filter returns the held values for which keep is true, oldest first.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	var out []T
	for _, v := range r.Snapshot() {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many values were overwritten.
func (r *Ring[T]) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}
