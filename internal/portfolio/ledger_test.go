package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (diff=%.6f)", label, got, want, math.Abs(got-want))
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	cfg := DefaultConfig()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg.Clock = func() time.Time {
		ts = ts.Add(time.Minute)
		return ts
	}
	l, err := NewLedger(cfg)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

// ────────────────────────────────────────────────────────────
// Scenario: $35 capital, $25 stake, 50x, 0.05% slippage, 5% stop
// ────────────────────────────────────────────────────────────

func TestLedger_LongScenario(t *testing.T) {
	l := newTestLedger(t)

	pos, err := l.Open(model.SideLong, 40000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	assertClose(t, "entry", pos.EntryPrice, 40020, 1e-9)
	assertClose(t, "initial stop", pos.InitialStop, 38019, 1e-9)
	assertClose(t, "trailing stop", pos.TrailingStop, 38019, 1e-9)
	assertClose(t, "notional", pos.Notional, 1250, 1e-9)
	if pos.Status != StatusOpen || pos.ID == "" {
		t.Fatalf("unexpected position: %+v", pos)
	}

	pos, breach, err := l.Update(pos.ID, 41000, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if breach != nil {
		t.Fatalf("unexpected breach at 41000: %+v", breach)
	}
	assertClose(t, "pnl%", pos.PnLPercent, 122.43878, 1e-4)
	assertClose(t, "pnl$", pos.PnLDollar, 30.6097, 1e-4)
	assertClose(t, "trailing after ratchet", pos.TrailingStop, 38950, 1e-9)
	assertClose(t, "extreme", pos.ExtremePrice, 41000, 0)

	pos, breach, err = l.Update(pos.ID, 38900, true)
	if err != nil {
		t.Fatal(err)
	}
	if breach == nil || breach.Label != StopLabel {
		t.Fatalf("expected trailing stop breach at 38900, got %+v", breach)
	}
	assertClose(t, "trailing unchanged on drop", pos.TrailingStop, 38950, 1e-9)
	if len(l.OpenPositions()) != 1 {
		t.Fatal("Update must never close a position")
	}

	before := l.Capital()
	closed, err := l.Close(pos.ID, 38900, breach.Label)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertClose(t, "exit price", *closed.ClosePrice, 38880.55, 1e-6)
	assertClose(t, "final pnl%", closed.PnLPercent, -142.36007, 1e-4)
	assertClose(t, "final pnl$", closed.PnLDollar, -35.59002, 1e-4)
	assertClose(t, "capital", l.Capital(), before+closed.PnLDollar, 0)
	assertClose(t, "capital value", l.Capital(), -0.5900175, 1e-6)
	assertClose(t, "pnl$ identity", closed.PnLDollar, closed.Stake*closed.PnLPercent/100, 1e-12)

	if closed.Status != StatusClosed || closed.ClosedAt == nil || closed.CloseReason != StopLabel {
		t.Errorf("close fields not stamped: %+v", closed)
	}
	if len(l.OpenPositions()) != 0 || len(l.ClosedPositions()) != 1 {
		t.Errorf("expected 0 open / 1 closed, got %d / %d", len(l.OpenPositions()), len(l.ClosedPositions()))
	}
}

func TestLedger_ShortSlippageAndStops(t *testing.T) {
	l := newTestLedger(t)
	pos, err := l.Open(model.SideShort, 40000)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "short entry", pos.EntryPrice, 39980, 1e-9)
	assertClose(t, "short stop", pos.InitialStop, 41979, 1e-9)

	pos, _, _ = l.Update(pos.ID, 39000, true)
	assertClose(t, "short trailing", pos.TrailingStop, 40950, 1e-9)
	assertClose(t, "short pnl%", pos.PnLPercent, (39980.0-39000)/39980*100*50, 1e-9)

	_, breach, _ := l.Update(pos.ID, 40950, false)
	if breach == nil {
		t.Fatal("SHORT should breach at price == stop")
	}

	closed, err := l.Close(pos.ID, 39500, "Manual")
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "short exit slips up", *closed.ClosePrice, 39500*1.0005, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Invariants
// ────────────────────────────────────────────────────────────

func TestLedger_TrailingStopMonotone(t *testing.T) {
	prices := []float64{40500, 41000, 40200, 42000, 39000, 41900, 43000, 38000}

	for _, side := range []model.Side{model.SideLong, model.SideShort} {
		l := newTestLedger(t)
		pos, err := l.Open(side, 40000)
		if err != nil {
			t.Fatal(err)
		}
		prev := pos.TrailingStop
		for _, px := range prices {
			pos, _, _ = l.Update(pos.ID, px, true)
			if side == model.SideLong && pos.TrailingStop < prev {
				t.Fatalf("LONG stop loosened %.2f -> %.2f at %.2f", prev, pos.TrailingStop, px)
			}
			if side == model.SideShort && pos.TrailingStop > prev {
				t.Fatalf("SHORT stop loosened %.2f -> %.2f at %.2f", prev, pos.TrailingStop, px)
			}
			prev = pos.TrailingStop
		}
	}
}

func TestLedger_TicksNeverMoveStop(t *testing.T) {
	l := newTestLedger(t)
	pos, _ := l.Open(model.SideLong, 40000)
	stop := pos.TrailingStop
	for _, px := range []float64{45000, 50000, 41000} {
		pos, _, _ = l.Update(pos.ID, px, false)
		if pos.TrailingStop != stop {
			t.Fatalf("intra-candle update moved stop to %.2f", pos.TrailingStop)
		}
	}
	assertClose(t, "pnl tracks tick", pos.CurrentPrice, 41000, 0)
}

func TestLedger_DuplicateSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 1000
	l, _ := NewLedger(cfg)

	first, err := l.Open(model.SideLong, 40000)
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.Open(model.SideLong, 41000)
	if !errors.Is(err, ErrDuplicateSide) {
		t.Fatalf("expected ErrDuplicateSide, got %v", err)
	}
	open := l.OpenPositions()
	if len(open) != 1 || open[0].ID != first.ID {
		t.Fatalf("open positions changed: %+v", open)
	}

	if _, err := l.Open(model.SideShort, 41000); err != nil {
		t.Fatalf("opposite side should open: %v", err)
	}
}

func TestLedger_InsufficientCapital(t *testing.T) {
	l := newTestLedger(t) // 35 capital, 25 stake
	if _, err := l.Open(model.SideLong, 40000); err != nil {
		t.Fatal(err)
	}
	_, err := l.Open(model.SideShort, 40000)
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("expected ErrInsufficientCapital with 10 free, got %v", err)
	}
	if _, ok := l.OpenBySide(model.SideShort); ok {
		t.Fatal("rejected open must not add a position")
	}
	assertClose(t, "free capital", l.FreeCapital(), 10, 1e-12)
}

func TestLedger_InvalidInput(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Open(model.Side("FLAT"), 40000); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := l.Open(model.SideLong, math.NaN()); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if _, _, err := l.Update("nope", 40000, true); !errors.Is(err, ErrUnknownPosition) {
		t.Errorf("expected ErrUnknownPosition, got %v", err)
	}
	if _, err := l.Close("nope", 40000, "Manual"); !errors.Is(err, ErrUnknownPosition) {
		t.Errorf("expected ErrUnknownPosition, got %v", err)
	}
}

func TestLedger_ClosedIsFinal(t *testing.T) {
	l := newTestLedger(t)
	pos, _ := l.Open(model.SideLong, 40000)
	if _, err := l.Close(pos.ID, 40100, "Manual"); err != nil {
		t.Fatal(err)
	}
	capital := l.Capital()

	if _, err := l.Close(pos.ID, 40100, "Manual"); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("second close should fail, got %v", err)
	}
	if _, _, err := l.Update(pos.ID, 40100, true); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("update of closed position should fail, got %v", err)
	}
	if l.Capital() != capital {
		t.Fatal("capital changed after rejected close")
	}
	got, ok := l.Position(pos.ID)
	if !ok || got.Status != StatusClosed {
		t.Fatalf("closed position lookup: %+v %v", got, ok)
	}
}

func TestLedger_UpdateAllAndCloseAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 100
	l, _ := NewLedger(cfg)
	l.Open(model.SideLong, 40000)
	l.Open(model.SideShort, 40000)

	breaches, err := l.UpdateAll(37000, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(breaches) != 1 || breaches[0].Side != model.SideLong {
		t.Fatalf("expected LONG breach only, got %+v", breaches)
	}

	closed, err := l.CloseAll(37000, "Manual")
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 2 || len(l.OpenPositions()) != 0 {
		t.Fatalf("expected both closed, got %d", len(closed))
	}
	want := 100 + closed[0].PnLDollar + closed[1].PnLDollar
	assertClose(t, "capital after close all", l.Capital(), want, 1e-9)
}

func TestLedger_AdjustCapital(t *testing.T) {
	l := newTestLedger(t)
	if err := l.AdjustCapital(100); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "capital", l.Capital(), 100, 0)

	l.Open(model.SideLong, 40000)
	if err := l.AdjustCapital(50); !errors.Is(err, ErrPositionsOpen) {
		t.Fatalf("expected ErrPositionsOpen, got %v", err)
	}
	if err := l.AdjustCapital(-1); err == nil {
		t.Fatal("expected error for negative capital")
	}
}

// ────────────────────────────────────────────────────────────
// Statistics
// ────────────────────────────────────────────────────────────

func TestStatistics_Empty(t *testing.T) {
	l := newTestLedger(t)
	s := l.Statistics()
	if s.TotalTrades != 0 || s.WinRate != 0 || s.TotalPnL != 0 {
		t.Errorf("expected zeroed stats, got %+v", s)
	}
	assertClose(t, "current capital", s.CurrentCapital, 35, 0)
}

func TestStatistics_WinsAndLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 100
	cfg.SlippagePct = 0
	l, _ := NewLedger(cfg)

	// +1% at 50x = +50% of 25 = +12.5
	p, _ := l.Open(model.SideLong, 40000)
	l.Close(p.ID, 40400, "Manual")
	// -2% at 50x = -100% of 25 = -25
	p, _ = l.Open(model.SideLong, 40000)
	l.Close(p.ID, 39200, "Manual")
	// flat counts as a loss
	p, _ = l.Open(model.SideShort, 40000)
	l.Close(p.ID, 40000, "Manual")

	s := l.Statistics()
	if s.TotalTrades != 3 || s.Wins != 1 || s.Losses != 2 {
		t.Fatalf("counts: %+v", s)
	}
	assertClose(t, "win rate", s.WinRate, 100.0/3, 1e-9)
	assertClose(t, "total pnl", s.TotalPnL, -12.5, 1e-9)
	assertClose(t, "total pnl %", s.TotalPnLPercent, -12.5, 1e-9)
	assertClose(t, "largest win", s.LargestWin, 12.5, 1e-9)
	assertClose(t, "largest loss", s.LargestLoss, -25, 1e-9)
	assertClose(t, "capital", s.CurrentCapital, 87.5, 1e-9)
	assertClose(t, "peak", s.PeakCapital, 112.5, 1e-9)
	assertClose(t, "max drawdown", s.MaxDrawdownPct, 25.0/112.5*100, 1e-9)
}

func TestLedger_Restore(t *testing.T) {
	src := newTestLedger(t)
	p, _ := src.Open(model.SideLong, 40000)
	src.Close(p.ID, 40100, "Manual")

	dst := newTestLedger(t)
	if err := dst.Restore(src.ClosedPositions(), nil); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "restored capital", dst.Capital(), src.Capital(), 1e-12)
	if dst.Statistics().TotalTrades != 1 {
		t.Error("restored trade missing from statistics")
	}
	if err := dst.Restore(src.ClosedPositions(), nil); err == nil {
		t.Error("second restore should fail")
	}
}

func TestLedger_RestoreReplaysAdjustments(t *testing.T) {
	src := newTestLedger(t)
	p, _ := src.Open(model.SideLong, 40000)
	src.Close(p.ID, 40100, "Manual")

	if err := src.AdjustCapital(100); err != nil {
		t.Fatal(err)
	}
	adj := []CapitalAdjustment{{Capital: 100, At: src.Config().Clock()}}

	p, _ = src.Open(model.SideShort, 40000)
	src.Close(p.ID, 39900, "Manual")

	dst := newTestLedger(t)
	if err := dst.Restore(src.ClosedPositions(), adj); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "restored capital", dst.Capital(), src.Capital(), 1e-12)
	want, got := src.Statistics(), dst.Statistics()
	assertClose(t, "peak", got.PeakCapital, want.PeakCapital, 1e-12)
	if got.TotalTrades != 2 {
		t.Errorf("trades = %d, want 2", got.TotalTrades)
	}

	// A close at the adjustment's instant settles before it.
	dst = newTestLedger(t)
	first := src.ClosedPositions()[0]
	if err := dst.Restore([]Position{first}, []CapitalAdjustment{{Capital: 60, At: *first.ClosedAt}}); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "capital after tie", dst.Capital(), 60, 0)

	dst = newTestLedger(t)
	if err := dst.Restore(nil, []CapitalAdjustment{{Capital: math.NaN()}}); err == nil {
		t.Error("NaN adjustment should fail")
	}
}

func TestLedger_UpdateReturnsRepriced(t *testing.T) {
	l := newTestLedger(t)
	open, _ := l.Open(model.SideLong, 40000)

	got, _, err := l.Update(open.ID, 41000, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentPrice != 41000 || got.PnLDollar == 0 || got.TrailingStop <= open.TrailingStop {
		t.Errorf("Update returned a stale copy: %+v", got)
	}
	held := l.OpenPositions()[0]
	if got.TrailingStop != held.TrailingStop || got.PnLPercent != held.PnLPercent {
		t.Errorf("returned %+v, ledger holds %+v", got, held)
	}
}
