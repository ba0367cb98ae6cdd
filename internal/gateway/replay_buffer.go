package gateway

import "github.com/elPachango/bitbot/internal/ringbuf"

// replayEntry holds one broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that notices a channel_seq gap can fetch what it missed.
type ReplayBuffer struct {
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	rb.ring.Push(replayEntry{Seq: seq, Data: cp})
}

// Range returns entries with seq in [fromSeq, toSeq], in seq order.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	return rb.ring.Filter(func(e replayEntry) bool {
		return e.Seq >= fromSeq && e.Seq <= toSeq
	})
}

// Len returns the number of entries held.
func (rb *ReplayBuffer) Len() int {
	return rb.ring.Len()
}
