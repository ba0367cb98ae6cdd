package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Broadcaster builds envelopes and sends them to every client.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// channelType maps "pub:eval:BTCUSDT" to "eval".
func channelType(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 3 || parts[0] != "pub" {
		return "message"
	}
	return parts[1]
}

// buildEnvelope writes the WS envelope by hand; payloads are already JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+192)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, channelType(channel)...)
	buf = append(buf, `","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast records data as the channel's latest message, buffers the
// envelope for gap replay and sends it to all clients. Payloads that are
// not valid JSON are dropped.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	if !json.Valid(data) {
		return
	}
	now := b.now().UTC()

	if srcTS := extractTS(data); !srcTS.IsZero() {
		if ms := float64(now.Sub(srcTS).Microseconds()) / 1000.0; ms >= 0 {
			b.hub.Latency.Record(ms)
		}
	}

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	seq := b.hub.seq
	rb, exists := b.hub.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(500)
		b.hub.replayBufs[channel] = rb
	}
	b.hub.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)
	if b.hub.m != nil {
		b.hub.m.Broadcasts.WithLabelValues(channelType(channel)).Inc()
	}

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		select {
		case client.send <- buf:
		default:
		}
	}
}

// extractTS reads the payload's publish timestamp for end-to-end latency.
// Ticks carry ts and state carries updated_at; evaluations are stamped with
// the candle time and are skipped.
func extractTS(data []byte) time.Time {
	var partial struct {
		TS        time.Time `json:"ts"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return time.Time{}
	}
	switch {
	case !partial.TS.IsZero():
		return partial.TS
	case !partial.UpdatedAt.IsZero():
		return partial.UpdatedAt
	}
	return time.Time{}
}
