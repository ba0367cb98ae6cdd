// Package execution drives the simulated trading loop. The Trader owns the
// strategy engine and the position ledger and applies closed candles, price
// ticks and operator commands to them from a single goroutine.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elPachango/bitbot/internal/logger"
	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/notification"
	"github.com/elPachango/bitbot/internal/portfolio"
	"github.com/elPachango/bitbot/internal/strategy"
)

// TradeStore persists closed positions.
type TradeStore interface {
	RecordClosed(p portfolio.Position) error
}

// CapitalStore persists operator capital adjustments. A TradeStore that
// also implements it records every successful AdjustCapital.
type CapitalStore interface {
	RecordCapital(a portfolio.CapitalAdjustment) error
}

// Publisher fans trader output out to dashboards.
type Publisher interface {
	PublishEvaluation(ctx context.Context, ev strategy.Evaluation) error
	PublishPosition(ctx context.Context, ev PositionEvent) error
	PublishState(ctx context.Context, st State) error
}

// Position event types.
const (
	EventOpened = "opened"
	EventClosed = "closed"
)

// PositionEvent is published whenever a position opens or closes.
type PositionEvent struct {
	Type     string             `json:"type"`
	Position portfolio.Position `json:"position"`
	Capital  float64            `json:"capital"`
}

// Bot status strings shown on the dashboard.
const (
	StatusWarmingUp = "warming up"
	StatusWaiting   = "waiting for signal"
	StatusInTrade   = "position open"
	StatusPaused    = "paused"
)

// State is the dashboard snapshot of the bot.
type State struct {
	Symbol         string               `json:"symbol"`
	Status         string               `json:"status"`
	Paused         bool                 `json:"paused"`
	Price          float64              `json:"price"`
	Capital        float64              `json:"capital"`
	FreeCapital    float64              `json:"free_capital"`
	UnrealizedPnL  float64              `json:"unrealized_pnl"`
	LastEvaluation *strategy.Evaluation `json:"last_evaluation"`
	Pending        *strategy.Signal     `json:"pending"`
	OpenPositions  []portfolio.Position `json:"open_positions"`
	Stats          portfolio.Statistics `json:"stats"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Config wires a Trader. Engine and Ledger are required; every other
// collaborator is optional.
type Config struct {
	Symbol    string
	Engine    *strategy.Engine
	Ledger    *portfolio.Ledger
	Store     TradeStore
	Publisher Publisher
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
}

// Trader applies strategy decisions to the ledger. OnClosed and OnTick are
// not safe for concurrent use; Run serializes them together with commands.
type Trader struct {
	symbol string
	engine *strategy.Engine
	ledger *portfolio.Ledger
	store  TradeStore
	pub    Publisher
	notify notification.Notifier
	m      *metrics.Metrics

	cmdCh chan func()

	paused    bool
	price     float64
	lastEval  *strategy.Evaluation
	evaluated bool
}

// NewTrader creates a Trader.
func NewTrader(cfg Config) *Trader {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	t := &Trader{
		symbol: cfg.Symbol,
		engine: cfg.Engine,
		ledger: cfg.Ledger,
		store:  cfg.Store,
		pub:    cfg.Publisher,
		notify: cfg.Notifier,
		m:      cfg.Metrics,
		cmdCh:  make(chan func()),
	}
	t.m.Capital.Set(cfg.Ledger.Capital())
	return t
}

// Ledger exposes the ledger for callers that drive OnClosed/OnTick
// directly without Run, such as backtests.
func (t *Trader) Ledger() *portfolio.Ledger { return t.ledger }

// Run consumes closed-candle series, ticks and commands until ctx is
// cancelled or closedCh is closed. A nil tickCh disables tick handling.
func (t *Trader) Run(ctx context.Context, closedCh <-chan []model.Candle, tickCh <-chan model.Tick) {
	log.Printf("[trader] %s running", t.symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case series, ok := <-closedCh:
			if !ok {
				return
			}
			// Errors are logged and counted inside; the loop keeps going.
			_ = t.OnClosed(ctx, series)
		case tick, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			t.OnTick(ctx, tick)
		case fn := <-t.cmdCh:
			fn()
		}
	}
}

// OnClosed handles a newly closed candle. closed holds closed candles only,
// oldest first. Trailing stops ratchet on the latest close, breached
// positions are stopped out, exit signals close their side and a confirmed
// entry opens a position at the latest close.
//
// Malformed input aborts the evaluation and leaves the ledger untouched.
func (t *Trader) OnClosed(ctx context.Context, closed []model.Candle) error {
	if err := model.ValidateSeries(closed); err != nil {
		t.m.EvaluationErrors.Inc()
		log.Printf("[trader] rejected series: %v", err)
		return err
	}
	if len(closed) == 0 {
		return nil
	}
	last := closed[len(closed)-1]
	traceID := logger.GenerateTraceID(t.symbol, last.TS)
	tctx := logger.WithTraceID(ctx, traceID)

	t.m.CandlesTotal.Inc()
	if !last.CloseTS.IsZero() {
		t.m.CandleLag.Set(time.Since(last.CloseTS).Seconds())
	}
	t.price = last.Close

	if breaches, err := t.ledger.UpdateAll(last.Close, true); err == nil {
		t.closeBreaches(tctx, breaches, last.Close)
	}

	start := time.Now()
	d, err := t.engine.Decide(closed, t.ledger.OpenSides())
	t.m.EvaluateDur.Observe(time.Since(start).Seconds())
	if err != nil {
		t.m.EvaluationErrors.Inc()
		logger.Warn(tctx, "evaluation failed", "error", err)
		return err
	}

	ev := d.Evaluation
	t.lastEval = &ev
	t.evaluated = true
	t.m.EvaluationsTotal.WithLabelValues(string(ev.Signal)).Inc()
	if ev.K != nil && ev.D != nil {
		t.m.StochK.Set(*ev.K)
		t.m.StochD.Set(*ev.D)
	}
	logger.Info(tctx, "evaluated",
		"signal", ev.Signal, "reason", ev.Reason, "close", last.Close, "gate", d.Gate)
	t.publish(tctx, func(ctx context.Context) error { return t.pub.PublishEvaluation(ctx, ev) })

	for _, side := range d.Close {
		if _, err := t.closeSide(tctx, side, last.Close, "Signal EXIT_"+string(side)); err != nil {
			log.Printf("[trader] exit %s: %v", side, err)
		}
	}

	if d.Pending != nil {
		t.m.DeferredSignals.Inc()
	}
	if d.Open != nil {
		if t.paused {
			log.Printf("[trader] paused, skipping %s entry at %.2f", *d.Open, last.Close)
		} else {
			t.open(tctx, *d.Open, last.Close)
		}
	}

	t.publishState(tctx)
	return nil
}

// OnTick reprices open positions between closes. The trailing stop does not
// move, but a price through it still stops the position out.
func (t *Trader) OnTick(ctx context.Context, tick model.Tick) {
	t.m.TicksTotal.Inc()
	t.price = tick.Price
	breaches, err := t.ledger.UpdateAll(tick.Price, false)
	if err != nil {
		log.Printf("[trader] bad tick %v: %v", tick.Price, err)
		return
	}
	t.closeBreaches(ctx, breaches, tick.Price)
	if len(t.ledger.OpenPositions()) > 0 || len(breaches) > 0 {
		t.publishState(ctx)
	}
}

func (t *Trader) closeBreaches(ctx context.Context, breaches []portfolio.Breach, price float64) {
	for _, b := range breaches {
		log.Printf("[trader] %s stop %.2f hit at %.2f", b.Side, b.Stop, price)
		if _, err := t.closeID(ctx, b.ID, price, b.Label); err != nil {
			log.Printf("[trader] stop-out %s: %v", b.ID, err)
		}
	}
}

func (t *Trader) open(ctx context.Context, side model.Side, price float64) {
	p, err := t.ledger.Open(side, price)
	if err != nil {
		reason := "other"
		switch {
		case errors.Is(err, portfolio.ErrDuplicateSide):
			reason = "duplicate_side"
		case errors.Is(err, portfolio.ErrInsufficientCapital):
			reason = "insufficient_capital"
		}
		t.m.OpenRejected.WithLabelValues(reason).Inc()
		logger.Warn(ctx, "open rejected", "side", side, "error", err)
		return
	}
	t.m.PositionsOpened.WithLabelValues(string(side)).Inc()
	t.refreshGauges()
	logger.Info(ctx, "position opened",
		"id", p.ID, "side", p.Side, "entry", p.EntryPrice, "stop", p.InitialStop)

	evt := PositionEvent{Type: EventOpened, Position: p, Capital: t.ledger.Capital()}
	t.publish(ctx, func(ctx context.Context) error { return t.pub.PublishPosition(ctx, evt) })
	t.sendAlert(notification.PositionOpened(p))
}

func (t *Trader) closeSide(ctx context.Context, side model.Side, price float64, reason string) (portfolio.Position, error) {
	p, ok := t.ledger.OpenBySide(side)
	if !ok {
		return portfolio.Position{}, fmt.Errorf("%w: no %s open", portfolio.ErrUnknownPosition, side)
	}
	return t.closeID(ctx, p.ID, price, reason)
}

func (t *Trader) closeID(ctx context.Context, id string, price float64, reason string) (portfolio.Position, error) {
	p, err := t.ledger.Close(id, price, reason)
	if err != nil {
		return portfolio.Position{}, err
	}
	t.m.PositionsClosed.WithLabelValues(string(p.Side), reason).Inc()
	t.refreshGauges()
	logger.Info(ctx, "position closed",
		"id", p.ID, "side", p.Side, "reason", reason, "pnl_pct", p.PnLPercent, "pnl", p.PnLDollar,
		"capital", t.ledger.Capital())

	if t.store != nil {
		start := time.Now()
		if err := t.store.RecordClosed(p); err != nil {
			log.Printf("[trader] journal write failed for %s: %v", p.ID, err)
		}
		t.m.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	}

	evt := PositionEvent{Type: EventClosed, Position: p, Capital: t.ledger.Capital()}
	t.publish(ctx, func(ctx context.Context) error { return t.pub.PublishPosition(ctx, evt) })
	t.sendAlert(notification.PositionClosed(p, t.ledger.Capital()))
	return p, nil
}

func (t *Trader) refreshGauges() {
	t.m.Capital.Set(t.ledger.Capital())
	t.m.UnrealizedPnL.Set(t.ledger.UnrealizedPnL())
	t.m.OpenPositions.Set(float64(len(t.ledger.OpenPositions())))
}

func (t *Trader) publish(ctx context.Context, fn func(context.Context) error) {
	if t.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := fn(pctx); err != nil {
		log.Printf("[trader] publish failed: %v", err)
	}
	t.m.RedisWriteDur.Observe(time.Since(start).Seconds())
}

func (t *Trader) publishState(ctx context.Context) {
	t.m.UnrealizedPnL.Set(t.ledger.UnrealizedPnL())
	if t.pub == nil {
		return
	}
	st := t.state()
	t.publish(ctx, func(ctx context.Context) error { return t.pub.PublishState(ctx, st) })
}

// sendAlert delivers off the trading goroutine so a slow channel never
// delays the next candle.
func (t *Trader) sendAlert(a notification.Alert) {
	if t.notify == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.notify.Send(ctx, a); err != nil {
			log.Printf("[trader] notify failed: %v", err)
		}
	}()
}

func (t *Trader) state() State {
	open := t.ledger.OpenPositions()
	status := StatusWaiting
	switch {
	case t.paused:
		status = StatusPaused
	case len(open) > 0:
		status = StatusInTrade
	case !t.evaluated || (t.lastEval != nil && t.lastEval.Reason == strategy.ReasonInsufficientData):
		status = StatusWarmingUp
	}
	return State{
		Symbol:         t.symbol,
		Status:         status,
		Paused:         t.paused,
		Price:          t.price,
		Capital:        t.ledger.Capital(),
		FreeCapital:    t.ledger.FreeCapital(),
		UnrealizedPnL:  t.ledger.UnrealizedPnL(),
		LastEvaluation: t.lastEval,
		Pending:        t.engine.Pending(),
		OpenPositions:  open,
		Stats:          t.ledger.Statistics(),
		UpdatedAt:      time.Now().UTC(),
	}
}
