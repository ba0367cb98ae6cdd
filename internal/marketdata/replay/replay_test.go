package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

type memReader struct {
	candles []model.Candle
	err     error
}

func (m *memReader) ReadCandles(symbol, interval string, afterTS int64) ([]model.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Candle
	for _, c := range m.candles {
		if c.TS.UnixMilli() > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memReader) Close() error { return nil }

func series(n int) []model.Candle {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Symbol: "BTCUSDT", TS: t0.Add(time.Duration(i) * time.Minute), Open: 1, High: 1, Low: 1, Close: float64(i + 1)}
	}
	return out
}

func TestReplayer_EmitsInOrderMarkedClosed(t *testing.T) {
	r := New(&memReader{candles: series(5)})
	out := make(chan model.Candle, 10)

	n, err := r.Run(context.Background(), "BTCUSDT", "1m", 0, 0, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("emitted = %d, want 5", n)
	}
	close(out)
	i := 0
	for c := range out {
		i++
		if c.Close != float64(i) || !c.Closed {
			t.Errorf("candle %d = close %.0f closed=%v", i, c.Close, c.Closed)
		}
	}
}

func TestReplayer_FromTS(t *testing.T) {
	candles := series(5)
	r := New(&memReader{candles: candles})
	out := make(chan model.Candle, 10)

	n, _ := r.Run(context.Background(), "BTCUSDT", "1m", candles[2].TS.UnixMilli(), 0, out)
	if n != 2 {
		t.Errorf("emitted = %d, want 2", n)
	}
}

func TestReplayer_Cancel(t *testing.T) {
	r := New(&memReader{candles: series(5)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and unread: only cancellation can unblock the send
	n, err := r.Run(ctx, "BTCUSDT", "1m", 0, 0, make(chan model.Candle))
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Errorf("n=%d err=%v", n, err)
	}
}

func TestReplayer_ReaderError(t *testing.T) {
	want := errors.New("boom")
	r := New(&memReader{err: want})
	if _, err := r.Run(context.Background(), "BTCUSDT", "1m", 0, 0, make(chan model.Candle)); !errors.Is(err, want) {
		t.Errorf("err = %v", err)
	}
}
