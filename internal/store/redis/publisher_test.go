package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/elPachango/bitbot/internal/execution"
	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

func TestKeys(t *testing.T) {
	cases := []struct{ got, want string }{
		{StateKey("BTCUSDT"), "state:BTCUSDT"},
		{TradesKey("BTCUSDT"), "trades:BTCUSDT"},
		{EvalChannel("BTCUSDT"), "pub:eval:BTCUSDT"},
		{PositionChannel("BTCUSDT"), "pub:position:BTCUSDT"},
		{StateChannel("BTCUSDT"), "pub:state:BTCUSDT"},
		{TickChannel("BTCUSDT"), "pub:tick:BTCUSDT"},
		{MarketChannel("BTCUSDT"), "pub:market:BTCUSDT"},
		{ControlChannel("BTCUSDT"), "ctl:BTCUSDT"},
		{ReplyChannel("abc"), "ctl:reply:abc"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

// deadClient points at a port nothing listens on so every call fails fast.
func deadClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestPublisher_BreakerTripsOnDeadRedis(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewPublisher(deadClient(), "BTCUSDT", m)
	defer p.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := p.PublishState(ctx, execution.State{Symbol: "BTCUSDT"})
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected dial error, got %v", i, err)
		}
	}
	if p.Breaker().CurrentState() != StateOpen {
		t.Fatalf("breaker = %v, want open", p.Breaker().CurrentState())
	}

	err := p.PublishEvaluation(ctx, strategy.Evaluation{Signal: strategy.KindNone})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 1 {
		t.Errorf("trips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerState); got != float64(StateOpen) {
		t.Errorf("state gauge = %v", got)
	}
}

func TestSendCommand_DeadRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := SendCommand(ctx, deadClient(), "BTCUSDT", Command{Action: ActionPause}); err == nil {
		t.Error("expected error from unreachable redis")
	}
}
