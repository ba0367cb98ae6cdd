package execution

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func closedAt(id string, side model.Side, pnl float64, at time.Time) portfolio.Position {
	exit := 40100.0
	return portfolio.Position{
		ID: id, Symbol: "BTCUSDT", Side: side,
		EntryPrice: 40020, CurrentPrice: exit, Stake: 25, Leverage: 50, Notional: 1250,
		InitialStop: 38019, TrailingStop: 38019, ExtremePrice: 40100,
		PnLPercent: pnl * 4, PnLDollar: pnl,
		OpenedAt: at.Add(-time.Hour), Status: portfolio.StatusClosed,
		ClosedAt: &at, ClosePrice: &exit, CloseReason: "Manual",
	}
}

func TestJournal_RecordAndQuery(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := j.RecordClosed(closedAt(id, model.SideLong, float64(i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordClosed(%s): %v", id, err)
		}
	}
	// Duplicate IDs are ignored.
	if err := j.RecordClosed(closedAt("a", model.SideLong, 99, base)); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	all, err := j.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("All() order = %+v", all)
	}
	if all[0].PnLDollar != 0 || all[0].Status != portfolio.StatusClosed || all[0].ClosedAt == nil {
		t.Errorf("round trip lost fields: %+v", all[0])
	}
	if !all[1].ClosedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("closed_at = %v", all[1].ClosedAt)
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("Recent(2) = %+v", recent)
	}
}

func TestJournal_RejectsOpenPosition(t *testing.T) {
	j := openJournal(t)
	p := portfolio.Position{ID: "x", Side: model.SideShort, Status: portfolio.StatusOpen}
	if err := j.RecordClosed(p); err == nil {
		t.Fatal("expected error for open position")
	}
}

func TestJournal_CapitalAdjustments(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, a := range []portfolio.CapitalAdjustment{
		{Capital: 300, At: base.Add(time.Second)},
		{Capital: 100, At: base.Add(500 * time.Millisecond)},
		{Capital: 200, At: base.Add(time.Second)},
		{Capital: 50, At: base.In(time.FixedZone("X", 3600))},
	} {
		if err := j.RecordCapital(a); err != nil {
			t.Fatalf("RecordCapital(%v): %v", a.Capital, err)
		}
	}

	got, err := j.Adjustments()
	if err != nil {
		t.Fatal(err)
	}
	// Ordered by time, then by insertion for equal times.
	want := []portfolio.CapitalAdjustment{
		{Capital: 50, At: base},
		{Capital: 100, At: base.Add(500 * time.Millisecond)},
		{Capital: 300, At: base.Add(time.Second)},
		{Capital: 200, At: base.Add(time.Second)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d adjustments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Capital != want[i].Capital || !got[i].At.Equal(want[i].At) {
			t.Errorf("adjustment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestJournal_EmptyAdjustments(t *testing.T) {
	got, err := openJournal(t).Adjustments()
	if err != nil || len(got) != 0 {
		t.Fatalf("Adjustments() = %v, %v", got, err)
	}
}
