package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/execution"
	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures a Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial creates a client and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Publisher writes trader output to Redis. It implements
// execution.Publisher. Every write goes through the circuit breaker so a
// dead Redis costs the trader loop nothing once the breaker opens.
type Publisher struct {
	client *goredis.Client
	symbol string
	cb     *CircuitBreaker
	m      *metrics.Metrics
}

var _ execution.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher for one symbol. m may be nil.
func NewPublisher(client *goredis.Client, symbol string, m *metrics.Metrics) *Publisher {
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s → %s", from, to)
		if m != nil {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
	}
	return &Publisher{client: client, symbol: symbol, cb: cb, m: m}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishEvaluation publishes one strategy evaluation.
func (p *Publisher) PublishEvaluation(ctx context.Context, ev strategy.Evaluation) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	return p.exec(ctx, "eval", func(pipe goredis.Pipeliner) {
		pipe.Publish(ctx, EvalChannel(p.symbol), data)
	})
}

// PublishPosition publishes a position event. Closed positions are also
// pushed onto the bounded trades list.
func (p *Publisher) PublishPosition(ctx context.Context, ev execution.PositionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal position event: %w", err)
	}
	var pos []byte
	if ev.Type == execution.EventClosed {
		if pos, err = json.Marshal(ev.Position); err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
	}
	return p.exec(ctx, "position", func(pipe goredis.Pipeliner) {
		if pos != nil {
			key := TradesKey(p.symbol)
			pipe.LPush(ctx, key, pos)
			pipe.LTrim(ctx, key, 0, maxTrades-1)
		}
		pipe.Publish(ctx, PositionChannel(p.symbol), data)
	})
}

// PublishState stores the latest state snapshot and publishes it.
func (p *Publisher) PublishState(ctx context.Context, st execution.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return p.exec(ctx, "state", func(pipe goredis.Pipeliner) {
		pipe.Set(ctx, StateKey(p.symbol), data, 0)
		pipe.Publish(ctx, StateChannel(p.symbol), data)
	})
}

// PublishTick publishes a live price. Ticks are best effort.
func (p *Publisher) PublishTick(ctx context.Context, t model.Tick) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	return p.exec(ctx, "tick", func(pipe goredis.Pipeliner) {
		pipe.Publish(ctx, TickChannel(p.symbol), data)
	})
}

// PublishMarket publishes the price header stats.
func (p *Publisher) PublishMarket(ctx context.Context, ms model.MarketStats) error {
	data, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("marshal market: %w", err)
	}
	return p.exec(ctx, "market", func(pipe goredis.Pipeliner) {
		pipe.Publish(ctx, MarketChannel(p.symbol), data)
	})
}

// exec runs one pipeline through the breaker and records its latency.
func (p *Publisher) exec(ctx context.Context, what string, fill func(goredis.Pipeliner)) error {
	start := time.Now()
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		fill(pipe)
		_, err := pipe.Exec(ctx)
		return err
	})
	if p.m != nil {
		p.m.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] %s pipeline error: %v", what, err)
	}
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", what, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
