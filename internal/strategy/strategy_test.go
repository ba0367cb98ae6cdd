package strategy

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/elPachango/bitbot/internal/indicator"
	"github.com/elPachango/bitbot/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Symbol: "BTCUSDT",
			TS:     t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:   c, High: c, Low: c, Close: c,
			Volume: 1,
			Closed: true,
		}
	}
	return out
}

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 40000 + 900*math.Sin(float64(i)/4) + 300*math.Cos(float64(i)*1.3)
	}
	return out
}

func mustEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev
}

// scripted returns an evaluate func that yields kinds in order.
func scripted(kinds ...Kind) func([]model.Candle) (Evaluation, error) {
	i := 0
	return func(c []model.Candle) (Evaluation, error) {
		k := kinds[i]
		i++
		return Evaluation{Signal: k, Reason: "scripted", ReferencePrice: c[len(c)-1].Close}, nil
	}
}

// ────────────────────────────────────────────────────────────
// Evaluator
// ────────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	ev := mustEvaluator(t)
	tests := []struct {
		name  string
		k     float64
		kPrev *float64
		want  Kind
	}{
		{"cross up through oversold", 20, ptr(19.9), KindLong},
		{"cross up well above", 45, ptr(5), KindLong},
		{"cross down through overbought", 80, ptr(80.1), KindShort},
		{"still overbought", 85, ptr(90), KindExitLong},
		{"still oversold", 10, ptr(12), KindExitShort},
		{"overbought without prev", 95, nil, KindExitLong},
		{"oversold without prev", 3, nil, KindExitShort},
		{"neutral", 50, ptr(48), KindNone},
		{"prev exactly at oversold is not a cross", 25, ptr(20), KindNone},
		{"prev exactly at overbought is not a cross", 75, ptr(80), KindNone},
		{"boundary 80 is not overbought", 80, ptr(70), KindNone},
		{"boundary 20 is not oversold", 20, ptr(30), KindNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := ev.classify(tt.k, tt.kPrev)
			if got != tt.want {
				t.Errorf("classify(%v, %v) = %s (%s), want %s", tt.k, tt.kPrev, got, reason, tt.want)
			}
			if got == KindNone && reason != ReasonWaiting {
				t.Errorf("NONE reason = %q, want %q", reason, ReasonWaiting)
			}
		})
	}
}

func TestEvaluate_InsufficientData(t *testing.T) {
	ev := mustEvaluator(t)
	c := candles(wave(ev.MinCandles() - 1)...)

	got, err := ev.Evaluate(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Signal != KindNone || got.Reason != ReasonInsufficientData {
		t.Errorf("got %s/%q, want NONE/%q", got.Signal, got.Reason, ReasonInsufficientData)
	}
	if got.K != nil || got.D != nil || got.KPrev != nil {
		t.Error("oscillator fields should be nil")
	}
	if got.ReferencePrice != c[len(c)-1].Close {
		t.Errorf("reference price = %.2f, want latest close", got.ReferencePrice)
	}

	if got, _ := ev.Evaluate(nil); got.Signal != KindNone {
		t.Errorf("empty series: got %s, want NONE", got.Signal)
	}
}

func TestEvaluate_MinCandles(t *testing.T) {
	ev := mustEvaluator(t)
	if ev.MinCandles() != 36 {
		t.Fatalf("MinCandles = %d, want 36 for (15,5,3,3)", ev.MinCandles())
	}
	got, err := ev.Evaluate(candles(wave(36)...))
	if err != nil {
		t.Fatal(err)
	}
	if got.K == nil || got.D == nil || got.KPrev == nil || got.DPrev == nil {
		t.Fatalf("expected all oscillator fields at MinCandles, got %+v", got)
	}
}

func TestEvaluate_MatchesIndicator(t *testing.T) {
	ev := mustEvaluator(t)
	prices := wave(80)
	got, err := ev.Evaluate(candles(prices...))
	if err != nil {
		t.Fatal(err)
	}
	cur := indicator.StochRSI(prices, indicator.DefaultParams())
	prev := indicator.StochRSI(prices[:len(prices)-1], indicator.DefaultParams())
	if *got.K != cur.K || *got.D != cur.D || *got.KPrev != prev.K {
		t.Errorf("evaluation (%v,%v,%v) differs from indicator (%v,%v,%v)",
			*got.K, *got.D, *got.KPrev, cur.K, cur.D, prev.K)
	}
}

func TestEvaluate_SignalsFollowCrossingRules(t *testing.T) {
	ev := mustEvaluator(t)
	prices := wave(400)
	seen := map[Kind]int{}
	for n := ev.MinCandles(); n <= len(prices); n++ {
		got, err := ev.Evaluate(candles(prices[:n]...))
		if err != nil {
			t.Fatal(err)
		}
		seen[got.Signal]++
		k := *got.K
		switch got.Signal {
		case KindLong:
			if !(*got.KPrev < 20 && k >= 20) {
				t.Fatalf("n=%d: LONG with K_prev=%.2f K=%.2f", n, *got.KPrev, k)
			}
		case KindShort:
			if !(*got.KPrev > 80 && k <= 80) {
				t.Fatalf("n=%d: SHORT with K_prev=%.2f K=%.2f", n, *got.KPrev, k)
			}
		case KindExitLong:
			if k <= 80 {
				t.Fatalf("n=%d: EXIT_LONG with K=%.2f", n, k)
			}
		case KindExitShort:
			if k >= 20 {
				t.Fatalf("n=%d: EXIT_SHORT with K=%.2f", n, k)
			}
		}
	}
	if seen[KindLong] == 0 || seen[KindShort] == 0 {
		t.Errorf("expected the wave to produce both entries, got %v", seen)
	}
}

func TestEvaluate_MalformedInput(t *testing.T) {
	ev := mustEvaluator(t)
	c := candles(wave(50)...)
	c[20].TS = c[19].TS

	_, err := ev.Evaluate(c)
	var mie *model.MalformedInputError
	if !errors.As(err, &mie) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}

	c = candles(wave(50)...)
	c[10].Close = math.NaN()
	if _, err := ev.Evaluate(c); !errors.As(err, &mie) || mie.Field != "close" {
		t.Fatalf("expected malformed close, got %v", err)
	}
}

func TestNewEvaluator_RejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oversold, cfg.Overbought = 80, 20
	if _, err := NewEvaluator(cfg); err == nil {
		t.Error("expected error for inverted thresholds")
	}
}

// ────────────────────────────────────────────────────────────
// Confirmation gate
// ────────────────────────────────────────────────────────────

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		side   model.Side
		want   bool
	}{
		{"long rising", []float64{100, 101}, model.SideLong, true},
		{"long flat", []float64{100, 100}, model.SideLong, true},
		{"long falling", []float64{100, 99}, model.SideLong, false},
		{"short falling", []float64{100, 99}, model.SideShort, true},
		{"short flat", []float64{100, 100}, model.SideShort, true},
		{"short rising", []float64{100, 101}, model.SideShort, false},
		{"single candle", []float64{100}, model.SideLong, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, why, err := Confirm(candles(tt.closes...), tt.side)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.want {
				t.Errorf("Confirm = %v (%s), want %v", ok, why, tt.want)
			}
			if why == "" {
				t.Error("expected a reason")
			}
		})
	}
}

func TestConfirm_InvalidSide(t *testing.T) {
	_, _, err := Confirm(candles(1, 2), model.Side("FLAT"))
	if !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Engine
// ────────────────────────────────────────────────────────────

func newScriptedEngine(maxPending int, kinds ...Kind) *Engine {
	return &Engine{evaluate: scripted(kinds...), maxPending: maxPending}
}

func TestEngine_ConfirmedEntryOpens(t *testing.T) {
	e := newScriptedEngine(0, KindLong)
	d, err := e.Decide(candles(100, 101), nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Open == nil || *d.Open != model.SideLong {
		t.Fatalf("expected LONG open, got %+v", d)
	}
	if e.Pending() != nil {
		t.Error("pending should be cleared after confirmation")
	}
}

func TestEngine_DeferredUntilConfirmed(t *testing.T) {
	e := newScriptedEngine(0, KindLong, KindNone, KindNone)

	d, _ := e.Decide(candles(100, 99), nil)
	if d.Open != nil {
		t.Fatal("falling close must not open a LONG")
	}
	if d.Pending == nil || d.Pending.Kind != KindLong || d.Pending.Attempts != 1 {
		t.Fatalf("expected deferred LONG with 1 attempt, got %+v", d.Pending)
	}

	d, _ = e.Decide(candles(100, 99, 98), nil)
	if d.Open != nil || d.Pending == nil || d.Pending.Attempts != 2 {
		t.Fatalf("still falling: expected deferral, got %+v", d)
	}

	d, _ = e.Decide(candles(100, 99, 98, 98.5), nil)
	if d.Open == nil || *d.Open != model.SideLong {
		t.Fatalf("rising close should confirm deferred LONG, got %+v", d)
	}
	if !strings.Contains(d.Gate, ">=") {
		t.Errorf("gate reason = %q", d.Gate)
	}
}

func TestEngine_ExitCancelsSameSidePending(t *testing.T) {
	e := newScriptedEngine(0, KindShort, KindExitShort)
	e.Decide(candles(100, 101), nil)
	if e.Pending() == nil {
		t.Fatal("expected deferred SHORT")
	}
	d, _ := e.Decide(candles(100, 101, 99), nil)
	if e.Pending() != nil || d.Open != nil {
		t.Fatalf("EXIT_SHORT should cancel deferred SHORT, got %+v", d)
	}
}

func TestEngine_OppositeExitKeepsPending(t *testing.T) {
	e := newScriptedEngine(0, KindShort, KindExitLong)
	e.Decide(candles(100, 101), nil)
	d, _ := e.Decide(candles(100, 101, 102), nil)
	if d.Pending == nil || d.Pending.Kind != KindShort {
		t.Fatalf("EXIT_LONG should not cancel deferred SHORT, got %+v", d)
	}
}

func TestEngine_FreshEntryReplacesPending(t *testing.T) {
	e := newScriptedEngine(0, KindLong, KindShort)
	e.Decide(candles(100, 99), nil)
	d, _ := e.Decide(candles(100, 99, 98), nil)
	if d.Open == nil || *d.Open != model.SideShort {
		t.Fatalf("SHORT should replace deferred LONG and confirm on falling close, got %+v", d)
	}
	if e.Pending() != nil {
		t.Error("nothing should remain deferred")
	}
}

func TestEngine_PendingDroppedWhenSideOpen(t *testing.T) {
	e := newScriptedEngine(0, KindLong, KindNone)
	e.Decide(candles(100, 99), nil)
	d, _ := e.Decide(candles(100, 99, 100), map[model.Side]bool{model.SideLong: true})
	if d.Open != nil || e.Pending() != nil {
		t.Fatalf("deferred LONG must be dropped while a LONG is open, got %+v", d)
	}
}

func TestEngine_ExitClosesOnlyOpenSide(t *testing.T) {
	e := newScriptedEngine(0, KindExitLong, KindExitLong)
	d, _ := e.Decide(candles(100, 101), nil)
	if len(d.Close) != 0 {
		t.Errorf("nothing open, expected no close, got %v", d.Close)
	}
	d, _ = e.Decide(candles(100, 101, 102), map[model.Side]bool{model.SideLong: true})
	if len(d.Close) != 1 || d.Close[0] != model.SideLong {
		t.Errorf("expected LONG close, got %v", d.Close)
	}
}

func TestEngine_PendingExpiry(t *testing.T) {
	e := newScriptedEngine(2, KindLong, KindNone)
	d, _ := e.Decide(candles(100, 99), nil)
	if d.Pending == nil {
		t.Fatal("expected deferral on first failure")
	}
	d, _ = e.Decide(candles(100, 99, 98), nil)
	if d.Pending != nil || e.Pending() != nil {
		t.Fatalf("expected expiry after 2 failed checks, got %+v", d.Pending)
	}
}

func TestEngine_ErrorLeavesStateUntouched(t *testing.T) {
	ev := mustEvaluator(t)
	e := NewEngine(ev, 0)
	e.pending = &Signal{Kind: KindLong, Side: model.SideLong}

	c := candles(wave(50)...)
	c[49].TS = c[48].TS
	if _, err := e.Decide(c, nil); err == nil {
		t.Fatal("expected error")
	}
	if p := e.Pending(); p == nil || p.Attempts != 0 {
		t.Fatalf("pending should be unchanged, got %+v", p)
	}
}
