package indicator

import (
	"math"
	"testing"
)

func TestStochRSI_HandComputed(t *testing.T) {
	// RSI(1) over a zig-zag alternates 100 (rise) and 0 (fall).
	// prices 1,2,1,2,1 → RSI: 100, 0, 100, 0
	// Stoch(2) over trailing pairs → 0, 100, 0
	prices := []float64{1, 2, 1, 2, 1}

	p := Params{RSIPeriod: 1, StochPeriod: 2, KSmooth: 1, DSmooth: 1}
	pt := StochRSI(prices, p)
	if !pt.Ready {
		t.Fatal("expected ready")
	}
	assertClose(t, "K", pt.K, 0, 1e-12)
	assertClose(t, "D", pt.D, 0, 1e-12)

	// One more rise: stoch 0,100,0,100. KSmooth=2 averages each pair → 50.
	p.KSmooth = 2
	pt = StochRSI(append(prices, 2), p)
	if !pt.Ready {
		t.Fatal("expected ready with KSmooth=2")
	}
	assertClose(t, "K smoothed", pt.K, 50, 1e-12)
	assertClose(t, "D smoothed", pt.D, 50, 1e-12)
}

func TestStochRSI_FlatOscillatorIs50(t *testing.T) {
	// A monotonic rise keeps every windowed RSI at 100, so max == min
	// in each stochastic window.
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	pt := StochRSI(prices, DefaultParams())
	if !pt.Ready {
		t.Fatal("expected ready")
	}
	assertClose(t, "K flat", pt.K, 50, 1e-12)
	assertClose(t, "D flat", pt.D, 50, 1e-12)
}

func TestStochRSI_InsufficientData(t *testing.T) {
	p := DefaultParams()
	prices := wave(p.MinPrices() - 1)
	if pt := StochRSI(prices, p); pt.Ready {
		t.Errorf("expected not ready with %d prices, got %+v", len(prices), pt)
	}

	prices = wave(p.MinPrices())
	if pt := StochRSI(prices, p); !pt.Ready {
		t.Errorf("expected ready with exactly %d prices", len(prices))
	}
}

func TestStochRSI_InvalidParams(t *testing.T) {
	if pt := StochRSI(wave(100), Params{RSIPeriod: 14, StochPeriod: 0, KSmooth: 3, DSmooth: 3}); pt.Ready {
		t.Error("expected not ready for zero stoch period")
	}
}

func TestStochRSI_Bounded(t *testing.T) {
	const eps = 1e-9
	prices := wave(300)
	p := DefaultParams()
	for n := p.MinPrices(); n <= len(prices); n++ {
		pt := StochRSI(prices[:n], p)
		if !pt.Ready {
			t.Fatalf("n=%d: expected ready", n)
		}
		if pt.K < -eps || pt.K > 100+eps || pt.D < -eps || pt.D > 100+eps {
			t.Fatalf("n=%d: K=%.6f D=%.6f out of [0,100]", n, pt.K, pt.D)
		}
	}
}

func TestStochRSI_WindowedNotIncremental(t *testing.T) {
	// Prepending unrelated history must not change the latest value: each
	// RSI is derived only from its own trailing window.
	p := DefaultParams()
	tail := wave(80)[40:]
	head := []float64{10, 90000, 5, 70000, 1}

	a := StochRSI(tail, p)
	b := StochRSI(append(append([]float64{}, head...), tail...), p)
	if !a.Ready || !b.Ready {
		t.Fatal("expected both ready")
	}
	assertClose(t, "K", b.K, a.K, 1e-9)
	assertClose(t, "D", b.D, a.D, 1e-9)
}

func TestStochRSISeries_MatchesLatest(t *testing.T) {
	p := DefaultParams()
	prices := wave(120)
	k, d := StochRSISeries(prices, p)
	if len(k)-len(d) != p.DSmooth-1 {
		t.Fatalf("expected K longer than D by %d, got %d vs %d", p.DSmooth-1, len(k), len(d))
	}
	pt := StochRSI(prices, p)
	if math.Abs(k[len(k)-1]-pt.K) > 0 || math.Abs(d[len(d)-1]-pt.D) > 0 {
		t.Errorf("series tail (%.4f, %.4f) != latest (%.4f, %.4f)", k[len(k)-1], d[len(d)-1], pt.K, pt.D)
	}
}
