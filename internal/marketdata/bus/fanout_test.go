package bus

import (
	"context"
	"testing"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[[]model.Candle](10)
	trader := fo.Subscribe("trader")
	archive := fo.Subscribe("archive")

	input := make(chan []model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- []model.Candle{{Symbol: "BTCUSDT", Close: 105}}

	for name, out := range map[string]<-chan []model.Candle{"trader": trader, "archive": archive} {
		select {
		case snap := <-out:
			if len(snap) != 1 || snap[0].Close != 105 {
				t.Errorf("%s: got %+v", name, snap)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for snapshot", name)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[int](1)
	slow := fo.Subscribe("slow")
	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fo.Run(ctx, input)
		close(done)
	}()

	input <- 1
	input <- 2 // buffer of 1 is full

	select {
	case name := <-dropped:
		if name != "slow" {
			t.Errorf("dropped for %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop")
	}
	if stats := fo.ChannelStats(); stats[0].Len != 1 || stats[0].Cap != 1 {
		t.Errorf("stats = %+v", stats)
	}

	cancel()
	<-done
	if v := <-slow; v != 1 {
		t.Errorf("first value = %d, want 1", v)
	}
	if _, ok := <-slow; ok {
		t.Error("output should be closed after Run returns")
	}
}
