package indicator

// StochRSI computes the latest Stochastic RSI (K, D) pair for prices.
//
//  1. An RSI value is derived at every index >= RSIPeriod from its own
//     trailing window of exactly RSIPeriod+1 prices. Each window is computed
//     from scratch; no Wilder state is carried across the series.
//  2. Each RSI is normalized against the min/max of the trailing
//     StochPeriod RSI values. A flat window yields 50.
//  3. K is the KSmooth-wide SMA of the normalized series.
//  4. D is the DSmooth-wide SMA of K.
//
// The returned Point is not Ready if prices is shorter than p.MinPrices()
// or any stage runs out of points.
func StochRSI(prices []float64, p Params) Point {
	k, d := lines(prices, p)
	if len(k) == 0 || len(d) == 0 {
		return Point{}
	}
	return Point{K: k[len(k)-1], D: d[len(d)-1], Ready: true}
}

// StochRSISeries returns the full K and D lines for prices. K is longer than
// D by DSmooth-1 points; both end at the last price.
func StochRSISeries(prices []float64, p Params) (k, d []float64) {
	return lines(prices, p)
}

func lines(prices []float64, p Params) (k, d []float64) {
	if p.Validate() != nil || len(prices) < p.MinPrices() {
		return nil, nil
	}

	rsis := make([]float64, 0, len(prices)-p.RSIPeriod)
	for i := p.RSIPeriod; i < len(prices); i++ {
		if v, ok := RSI(prices[i-p.RSIPeriod:i+1], p.RSIPeriod); ok {
			rsis = append(rsis, v)
		}
	}
	if len(rsis) < p.StochPeriod {
		return nil, nil
	}

	stoch := make([]float64, 0, len(rsis)-p.StochPeriod+1)
	for i := p.StochPeriod - 1; i < len(rsis); i++ {
		lo, hi := minMax(rsis[i-p.StochPeriod+1 : i+1])
		if hi == lo {
			stoch = append(stoch, 50)
			continue
		}
		stoch = append(stoch, 100*(rsis[i]-lo)/(hi-lo))
	}

	k = SMA(stoch, p.KSmooth)
	if len(k) == 0 {
		return nil, nil
	}
	d = SMA(k, p.DSmooth)
	if len(d) == 0 {
		return nil, nil
	}
	return k, d
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
