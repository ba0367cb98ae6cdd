package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/elPachango/bitbot/internal/model"
)

// Ledger errors. Returned wrapped with detail; match with errors.Is.
var (
	ErrDuplicateSide       = errors.New("portfolio: position already open on this side")
	ErrInsufficientCapital = errors.New("portfolio: insufficient free capital")
	ErrInvalidSide         = errors.New("portfolio: invalid side")
	ErrUnknownPosition     = errors.New("portfolio: unknown open position")
	ErrInvalidPrice        = errors.New("portfolio: price must be finite and positive")
	ErrPositionsOpen       = errors.New("portfolio: positions are open")
)

// Config holds the ledger's sizing and risk parameters. Percentages are in
// percent units (5 means 5%).
type Config struct {
	Symbol         string
	InitialCapital float64
	StakePerTrade  float64
	Leverage       float64
	StopLossPct    float64
	SlippagePct    float64

	// Clock stamps open/close times. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig mirrors the tuned bot: $35 capital, $25 per trade at 50x,
// 5% stop and 0.05% slippage.
func DefaultConfig() Config {
	return Config{
		Symbol:         "BTCUSDT",
		InitialCapital: 35,
		StakePerTrade:  25,
		Leverage:       50,
		StopLossPct:    5,
		SlippagePct:    0.05,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	switch {
	case c.InitialCapital < 0:
		return fmt.Errorf("portfolio: initial capital must be >= 0, got %v", c.InitialCapital)
	case c.StakePerTrade <= 0:
		return fmt.Errorf("portfolio: stake per trade must be > 0, got %v", c.StakePerTrade)
	case c.Leverage <= 0:
		return fmt.Errorf("portfolio: leverage must be > 0, got %v", c.Leverage)
	case c.StopLossPct <= 0 || c.StopLossPct >= 100:
		return fmt.Errorf("portfolio: stop loss must be in (0, 100), got %v", c.StopLossPct)
	case c.SlippagePct < 0 || c.SlippagePct >= 100:
		return fmt.Errorf("portfolio: slippage must be in [0, 100), got %v", c.SlippagePct)
	}
	return nil
}

// Ledger tracks capital, at most one open position per side, and the
// append-only log of closed positions.
type Ledger struct {
	cfg     Config
	capital float64
	seed    float64

	open   map[model.Side]*Position
	closed []Position
	equity equityTracker
}

// NewLedger validates cfg and returns an empty ledger holding
// cfg.InitialCapital.
func NewLedger(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Ledger{
		cfg:     cfg,
		capital: cfg.InitialCapital,
		seed:    cfg.InitialCapital,
		open:    make(map[model.Side]*Position, 2),
		equity:  newEquityTracker(cfg.InitialCapital),
	}, nil
}

// Config returns the ledger configuration.
func (l *Ledger) Config() Config { return l.cfg }

// Open creates a position on side at refPrice adjusted by entry slippage.
// The ledger is unchanged on error.
func (l *Ledger) Open(side model.Side, refPrice float64) (Position, error) {
	if !side.Valid() {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if err := checkPrice(refPrice); err != nil {
		return Position{}, err
	}
	if _, ok := l.open[side]; ok {
		return Position{}, fmt.Errorf("%w: %s", ErrDuplicateSide, side)
	}
	if free := l.FreeCapital(); free < l.cfg.StakePerTrade {
		return Position{}, fmt.Errorf("%w: free %.2f < stake %.2f", ErrInsufficientCapital, free, l.cfg.StakePerTrade)
	}

	entry := l.slip(refPrice, side == model.SideLong)
	stop := entry * (1 - l.cfg.StopLossPct/100)
	if side == model.SideShort {
		stop = entry * (1 + l.cfg.StopLossPct/100)
	}

	p := &Position{
		ID:           uuid.NewString(),
		Symbol:       l.cfg.Symbol,
		Side:         side,
		EntryPrice:   entry,
		CurrentPrice: entry,
		Stake:        l.cfg.StakePerTrade,
		Leverage:     l.cfg.Leverage,
		Notional:     l.cfg.StakePerTrade * l.cfg.Leverage,
		InitialStop:  stop,
		TrailingStop: stop,
		ExtremePrice: entry,
		OpenedAt:     l.cfg.Clock(),
		Status:       StatusOpen,
	}
	l.open[side] = p
	return *p, nil
}

// Update reprices the open position id. When candleClosed is true the
// trailing stop may ratchet; intra-candle updates never move it. The
// returned Breach is non-nil when price is at or through the stop. Update
// never closes the position.
func (l *Ledger) Update(id string, price float64, candleClosed bool) (Position, *Breach, error) {
	if err := checkPrice(price); err != nil {
		return Position{}, nil, err
	}
	p := l.find(id)
	if p == nil {
		return Position{}, nil, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}
	b := l.update(p, price, candleClosed)
	return *p, b, nil
}

// UpdateAll applies Update to every open position, LONG first.
func (l *Ledger) UpdateAll(price float64, candleClosed bool) ([]Breach, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	var out []Breach
	for _, side := range [...]model.Side{model.SideLong, model.SideShort} {
		if p, ok := l.open[side]; ok {
			if b := l.update(p, price, candleClosed); b != nil {
				out = append(out, *b)
			}
		}
	}
	return out, nil
}

func (l *Ledger) update(p *Position, price float64, candleClosed bool) *Breach {
	p.reprice(price)
	if candleClosed {
		p.ratchet(price, l.cfg.StopLossPct)
	}
	if !p.breached(price) {
		return nil
	}
	return &Breach{ID: p.ID, Side: p.Side, Price: price, Stop: p.TrailingStop, Label: StopLabel}
}

// Close exits position id at price adjusted by exit slippage, credits its
// P&L to capital and moves it to the closed log.
func (l *Ledger) Close(id string, price float64, reason string) (Position, error) {
	if err := checkPrice(price); err != nil {
		return Position{}, err
	}
	p := l.find(id)
	if p == nil {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}

	exit := l.slip(price, p.Side == model.SideShort)
	p.reprice(exit)

	now := l.cfg.Clock()
	p.Status = StatusClosed
	p.ClosedAt = &now
	p.ClosePrice = &exit
	p.CloseReason = reason

	l.capital += p.PnLDollar
	l.equity.record(l.capital)
	delete(l.open, p.Side)
	l.closed = append(l.closed, *p)
	return *p, nil
}

// CloseSide closes the open position on side, if any.
func (l *Ledger) CloseSide(side model.Side, price float64, reason string) (Position, error) {
	p, ok := l.open[side]
	if !ok {
		return Position{}, fmt.Errorf("%w: no %s open", ErrUnknownPosition, side)
	}
	return l.Close(p.ID, price, reason)
}

// CloseAll closes every open position at price, LONG first.
func (l *Ledger) CloseAll(price float64, reason string) ([]Position, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	var out []Position
	for _, side := range [...]model.Side{model.SideLong, model.SideShort} {
		if _, ok := l.open[side]; !ok {
			continue
		}
		p, err := l.CloseSide(side, price, reason)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// AdjustCapital replaces the capital balance. It is refused while any
// position is open, since their P&L settles against the current balance.
func (l *Ledger) AdjustCapital(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("portfolio: capital must be finite and >= 0, got %v", value)
	}
	if len(l.open) > 0 {
		return fmt.Errorf("%w: close them before adjusting capital", ErrPositionsOpen)
	}
	l.capital = value
	l.equity.reset(value)
	return nil
}

// Capital returns the settled capital balance.
func (l *Ledger) Capital() float64 { return l.capital }

// FreeCapital is capital minus the stakes of open positions.
func (l *Ledger) FreeCapital() float64 {
	free := l.capital
	for _, p := range l.open {
		free -= p.Stake
	}
	return free
}

// UnrealizedPnL sums PnLDollar over open positions.
func (l *Ledger) UnrealizedPnL() float64 {
	var sum float64
	for _, p := range l.open {
		sum += p.PnLDollar
	}
	return sum
}

// OpenPositions returns copies of the open positions, LONG first.
func (l *Ledger) OpenPositions() []Position {
	out := make([]Position, 0, len(l.open))
	for _, side := range [...]model.Side{model.SideLong, model.SideShort} {
		if p, ok := l.open[side]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// OpenSides reports which sides currently hold a position.
func (l *Ledger) OpenSides() map[model.Side]bool {
	out := make(map[model.Side]bool, len(l.open))
	for side := range l.open {
		out[side] = true
	}
	return out
}

// OpenBySide returns the open position on side.
func (l *Ledger) OpenBySide(side model.Side) (Position, bool) {
	p, ok := l.open[side]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Position returns the open or closed position with id.
func (l *Ledger) Position(id string) (Position, bool) {
	if p := l.find(id); p != nil {
		return *p, true
	}
	for i := len(l.closed) - 1; i >= 0; i-- {
		if l.closed[i].ID == id {
			return l.closed[i], true
		}
	}
	return Position{}, false
}

// ClosedPositions returns a copy of the closed log in close order.
func (l *Ledger) ClosedPositions() []Position {
	out := make([]Position, len(l.closed))
	copy(out, l.closed)
	return out
}

func (l *Ledger) find(id string) *Position {
	for _, p := range l.open {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// slip moves price against the trader: up when buying, down when selling.
func (l *Ledger) slip(price float64, buying bool) float64 {
	if buying {
		return price * (1 + l.cfg.SlippagePct/100)
	}
	return price * (1 - l.cfg.SlippagePct/100)
}

func checkPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

// CapitalAdjustment is an operator override of the capital balance.
type CapitalAdjustment struct {
	Capital float64   `json:"capital"`
	At      time.Time `json:"at"`
}

// Restore seeds an empty ledger from its journal: closed positions settle
// their P&L into capital and adjustments replace it, merged by time. A
// position closed at the same instant as an adjustment settles first,
// since adjustments are refused while positions are open. It fails if the
// ledger has any history or open positions.
func (l *Ledger) Restore(positions []Position, adjustments []CapitalAdjustment) error {
	if len(l.open) > 0 || len(l.closed) > 0 {
		return fmt.Errorf("portfolio: restore into a ledger with history")
	}
	for _, p := range positions {
		if p.Status != StatusClosed || p.ClosedAt == nil {
			return fmt.Errorf("portfolio: restore %s: status %q", p.ID, p.Status)
		}
	}

	i, j := 0, 0
	for i < len(positions) || j < len(adjustments) {
		if j == len(adjustments) || (i < len(positions) && !positions[i].ClosedAt.After(adjustments[j].At)) {
			p := positions[i]
			l.capital += p.PnLDollar
			l.equity.record(l.capital)
			l.closed = append(l.closed, p)
			i++
			continue
		}
		a := adjustments[j]
		if math.IsNaN(a.Capital) || math.IsInf(a.Capital, 0) || a.Capital < 0 {
			return fmt.Errorf("portfolio: restore adjustment at %s: capital %v", a.At.Format(time.RFC3339), a.Capital)
		}
		l.capital = a.Capital
		l.equity.reset(a.Capital)
		j++
	}
	return nil
}
