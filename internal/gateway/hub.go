// Package gateway serves the dashboard: a WebSocket hub that relays the
// bot's Redis pub/sub output to browsers, plus REST endpoints for state,
// trade history and operator controls.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elPachango/bitbot/internal/marketdata/closedetector"
	redisstore "github.com/elPachango/bitbot/internal/store/redis"
)

// Source is the gateway's view of the bot, backed by Redis in production.
type Source interface {
	Symbol() string
	LatestState(ctx context.Context) (json.RawMessage, error)
	RecentTrades(ctx context.Context, limit int) ([]json.RawMessage, error)
	Subscribe(ctx context.Context, out chan<- redisstore.Message) error
	SendCommand(ctx context.Context, cmd redisstore.Command) (redisstore.Reply, error)
}

// Hub manages WebSocket clients and fans Redis pub/sub messages out to them.
type Hub struct {
	src      Source
	detector *closedetector.Detector
	m        *Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	Latency     *LatencyTracker
	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub. interval is the candle interval used for the
// next-close countdown. m may be nil.
func NewHub(src Source, interval time.Duration, m *Metrics) *Hub {
	h := &Hub{
		src:         src,
		detector:    closedetector.New(interval),
		m:           m,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run primes the latest state and relays pub/sub messages until ctx is
// cancelled, resubscribing after Redis errors.
func (h *Hub) Run(ctx context.Context) {
	if st, err := h.src.LatestState(ctx); err != nil {
		log.Printf("[gateway] prime state: %v", err)
	} else if st != nil {
		h.broadcast(redisstore.StateChannel(h.src.Symbol()), st)
	}

	msgCh := make(chan redisstore.Message, 1024)
	go func() {
		for {
			if err := h.src.Subscribe(ctx, msgCh); err != nil {
				log.Printf("[gateway] subscribe: %v (retrying in 2s)", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			h.broadcast(msg.Channel, msg.Payload)
		}
	}
}

func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection. lastTS, when set,
// limits the initial replay to channels updated after it.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.m != nil {
		h.m.Clients.Set(float64(count))
	}

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.m != nil {
		h.m.Clients.Set(float64(count))
	}
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clock is the countdown payload pushed to clients every second.
type Clock struct {
	Type           string         `json:"type"`
	ServerTime     time.Time      `json:"server_time"`
	NextClose      time.Time      `json:"next_close"`
	SecondsToClose int            `json:"seconds_to_close"`
	Clients        int            `json:"clients"`
	System         *SystemMetrics `json:"system,omitempty"`
}

// clock builds the countdown payload. System metrics ride along every
// fifth second.
func (h *Hub) clock(now time.Time, sys *SystemSampler) Clock {
	c := Clock{
		Type:           "clock",
		ServerTime:     now.UTC(),
		NextClose:      h.detector.NextClose(now).UTC(),
		SecondsToClose: int(h.detector.Remaining(now).Round(time.Second) / time.Second),
		Clients:        h.ClientCount(),
	}
	if sys != nil && now.Second()%5 == 0 {
		m := sys.Collect()
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
		c.System = &m
	}
	return c
}

// StartClock sends the next-close countdown to every client each second.
func (h *Hub) StartClock(ctx context.Context, sys *SystemSampler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			envelope, _ := json.Marshal(h.clock(now, sys))
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
