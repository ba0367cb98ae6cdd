package portfolio

// Statistics summarizes the closed-position log.
type Statistics struct {
	TotalTrades     int     `json:"total_trades"`
	Wins            int     `json:"won"`
	Losses          int     `json:"lost"`
	WinRate         float64 `json:"win_rate"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
	LargestWin      float64 `json:"biggest_win"`
	LargestLoss     float64 `json:"biggest_loss"`
	CurrentCapital  float64 `json:"current_capital"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	PeakCapital     float64 `json:"peak_capital"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
}

// Statistics computes the summary. A position with PnLDollar > 0 is a win;
// anything else counts as a loss. TotalPnLPercent is relative to the
// initial capital. With no closed positions every aggregate is zero.
func (l *Ledger) Statistics() Statistics {
	s := Statistics{
		CurrentCapital: l.capital,
		UnrealizedPnL:  l.UnrealizedPnL(),
		PeakCapital:    l.equity.peak,
		MaxDrawdownPct: l.equity.maxDrawdown,
	}
	if len(l.closed) == 0 {
		return s
	}

	for _, p := range l.closed {
		s.TotalPnL += p.PnLDollar
		if p.PnLDollar > 0 {
			s.Wins++
			if p.PnLDollar > s.LargestWin {
				s.LargestWin = p.PnLDollar
			}
			continue
		}
		s.Losses++
		if p.PnLDollar < s.LargestLoss {
			s.LargestLoss = p.PnLDollar
		}
	}
	s.TotalTrades = len(l.closed)
	s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	if l.seed > 0 {
		s.TotalPnLPercent = s.TotalPnL / l.seed * 100
	}
	return s
}
