// Package portfolio is the position ledger: leveraged positions with
// slippage, a ratcheting trailing stop and capital accounting.
//
// A Ledger has no internal locking. The owner serializes every call.
package portfolio

import (
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// Status is the lifecycle state of a Position.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// StopLabel is the breach label reported when the trailing stop is hit.
const StopLabel = "Trailing Stop"

// Position is one simulated leveraged position. Stake is the capital put up;
// Notional is Stake × leverage. PnLDollar is always Stake × PnLPercent / 100.
type Position struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol,omitempty"`
	Side         model.Side `json:"side"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	Stake        float64    `json:"stake"`
	Leverage     float64    `json:"leverage"`
	Notional     float64    `json:"notional"`
	InitialStop  float64    `json:"initial_stop"`
	TrailingStop float64    `json:"trailing_stop"`
	ExtremePrice float64    `json:"extreme_price"`
	PnLPercent   float64    `json:"pnl_percent"`
	PnLDollar    float64    `json:"pnl_dollar"`
	OpenedAt     time.Time  `json:"opened_at"`
	Status       Status     `json:"status"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosePrice   *float64   `json:"close_price,omitempty"`
	CloseReason  string     `json:"close_reason,omitempty"`
}

// Breach reports an open position whose trailing stop was crossed.
type Breach struct {
	ID    string     `json:"id"`
	Side  model.Side `json:"side"`
	Price float64    `json:"price"`
	Stop  float64    `json:"stop"`
	Label string     `json:"label"`
}

// reprice sets the current price and recomputes P&L.
func (p *Position) reprice(price float64) {
	p.CurrentPrice = price
	var change float64
	if p.Side == model.SideLong {
		change = (price - p.EntryPrice) / p.EntryPrice
	} else {
		change = (p.EntryPrice - price) / p.EntryPrice
	}
	p.PnLPercent = change * 100 * p.Leverage
	p.PnLDollar = p.Stake * p.PnLPercent / 100
}

// ratchet moves the trailing stop toward price if price is a new extreme
// and the candidate stop improves on the current one. It never loosens.
func (p *Position) ratchet(price, stopPct float64) {
	if p.Side == model.SideLong {
		if price > p.ExtremePrice {
			p.ExtremePrice = price
		}
		if c := p.ExtremePrice * (1 - stopPct/100); c > p.TrailingStop {
			p.TrailingStop = c
		}
		return
	}
	if price < p.ExtremePrice {
		p.ExtremePrice = price
	}
	if c := p.ExtremePrice * (1 + stopPct/100); c < p.TrailingStop {
		p.TrailingStop = c
	}
}

// breached reports whether price is at or through the trailing stop.
func (p *Position) breached(price float64) bool {
	if p.Side == model.SideLong {
		return price <= p.TrailingStop
	}
	return price >= p.TrailingStop
}
