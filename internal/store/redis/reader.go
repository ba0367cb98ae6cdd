package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// Message is one pub/sub payload relayed to dashboard clients.
type Message struct {
	Channel string
	Payload []byte
}

// Reader gives the gateway read access to the bot's published output and a
// path to send it commands.
type Reader struct {
	client *goredis.Client
	symbol string
}

// NewReader wraps a connected client for one symbol.
func NewReader(client *goredis.Client, symbol string) *Reader {
	return &Reader{client: client, symbol: symbol}
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Symbol returns the symbol this reader serves.
func (r *Reader) Symbol() string { return r.symbol }

// LatestState returns the raw State JSON, or nil if the bot has not
// published yet.
func (r *Reader) LatestState(ctx context.Context) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, StateKey(r.symbol)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", StateKey(r.symbol), err)
	}
	return data, nil
}

// RecentTrades returns up to limit closed positions, newest first.
func (r *Reader) RecentTrades(ctx context.Context, limit int) ([]json.RawMessage, error) {
	if limit <= 0 || limit > maxTrades {
		limit = maxTrades
	}
	items, err := r.client.LRange(ctx, TradesKey(r.symbol), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", TradesKey(r.symbol), err)
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out, nil
}

// Subscribe relays every pub:* message to out until ctx is cancelled.
// Messages are dropped when out is full.
func (r *Reader) Subscribe(ctx context.Context, out chan<- Message) error {
	pubsub := r.client.PSubscribe(ctx, PubPattern)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", PubPattern, err)
	}
	log.Printf("[redis-reader] subscribed to %s", PubPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			default:
			}
		}
	}
}

// SendCommand forwards an operator command to the bot and waits for its reply.
func (r *Reader) SendCommand(ctx context.Context, cmd Command) (Reply, error) {
	return SendCommand(ctx, r.client, r.symbol, cmd)
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
