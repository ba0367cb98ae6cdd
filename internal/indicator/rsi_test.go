package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas: +0.34, -0.25, -0.48, +0.72, +0.50 | +0.27, +0.32, +0.42
	// Seed (first 5): avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1 + 0.312/0.146) = 68.1223
	// Wilder step with +0.27: avgGain = (0.312*4 + 0.27)/5 = 0.3036
	//                         avgLoss = (0.146*4 + 0)/5    = 0.1168
	//   RSI = 100 - 100/(1 + 2.5993) = 72.2169
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	cases := []struct {
		n    int
		want float64
	}{
		{6, 68.1223},
		{7, 72.2169},
		{9, 81.5087},
	}
	for _, tc := range cases {
		got, ok := RSI(prices[:tc.n], 5)
		if !ok {
			t.Fatalf("RSI over %d prices: expected ready", tc.n)
		}
		assertClose(t, "RSI(5)", got, tc.want, 0.001)
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	if _, ok := RSI([]float64{1, 2, 3}, 3); ok {
		t.Error("RSI(3) over 3 prices should not be ready (needs period+1)")
	}
	if _, ok := RSI(nil, 14); ok {
		t.Error("RSI over nil should not be ready")
	}
	if _, ok := RSI([]float64{1, 2}, 0); ok {
		t.Error("RSI with period 0 should not be ready")
	}
}

func TestRSI_NonDecreasingIs100(t *testing.T) {
	series := [][]float64{
		{10, 11, 12, 13, 14, 15},
		{10, 10, 10, 10, 10, 10},
		{10, 10, 12, 12, 12, 40, 41},
	}
	for i, s := range series {
		got, ok := RSI(s, 5)
		if !ok {
			t.Fatalf("series %d: expected ready", i)
		}
		if got != 100 {
			t.Errorf("series %d: expected RSI=100 with zero losses, got %.4f", i, got)
		}
	}
}

func TestRSI_StrictlyFallingIsZero(t *testing.T) {
	got, ok := RSI([]float64{20, 19, 18, 17, 16, 15}, 5)
	if !ok {
		t.Fatal("expected ready")
	}
	assertClose(t, "RSI falling", got, 0, 1e-12)
}

func TestRSI_Bounded(t *testing.T) {
	prices := wave(200)
	for n := 15; n <= len(prices); n++ {
		v, ok := RSI(prices[:n], 14)
		if !ok {
			t.Fatalf("n=%d: expected ready", n)
		}
		if v < 0 || v > 100 {
			t.Fatalf("n=%d: RSI %.4f out of [0,100]", n, v)
		}
	}
}

// wave builds a deterministic noisy oscillating price path.
func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 40000 + 900*math.Sin(float64(i)/5) + 250*math.Cos(float64(i)*1.7) + float64(i%7)*13
	}
	return out
}
