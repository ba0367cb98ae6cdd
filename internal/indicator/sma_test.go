package indicator

import "testing"

func TestSMA_Correctness_Period3(t *testing.T) {
	// 100, 102, 104, 103, 105 → (100+102+104)/3, (102+104+103)/3, (104+103+105)/3
	got := SMA([]float64{100, 102, 104, 103, 105}, 3)
	want := []float64{102, 103, 104}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(got))
	}
	for i := range want {
		assertClose(t, "SMA(3)", got[i], want[i], 1e-9)
	}
}

func TestSMA_NotEnoughValues(t *testing.T) {
	if got := SMA([]float64{1, 2}, 3); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := SMA([]float64{1, 2}, 0); got != nil {
		t.Errorf("expected nil for zero width, got %v", got)
	}
}

func TestSMA_WidthOneIsIdentity(t *testing.T) {
	in := []float64{5, 7, 9}
	got := SMA(in, 1)
	for i := range in {
		assertClose(t, "SMA(1)", got[i], in[i], 0)
	}
}
