package indicator

// SMA returns the simple moving average of width over values, one output per
// full window (len(values)-width+1 points). Returns nil if there are fewer
// than width values.
func SMA(values []float64, width int) []float64 {
	if width <= 0 || len(values) < width {
		return nil
	}
	out := make([]float64, 0, len(values)-width+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= width {
			sum -= values[i-width]
		}
		if i >= width-1 {
			out = append(out, sum/float64(width))
		}
	}
	return out
}
