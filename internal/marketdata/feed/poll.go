package feed

import (
	"context"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/marketdata/closedetector"
	"github.com/elPachango/bitbot/internal/model"
)

// KlineSource is the slice of the Binance REST client the poller needs.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// PollConfig holds REST polling settings.
type PollConfig struct {
	Symbol   string
	Interval string
	Every    time.Duration // default 10s
	Limit    int           // klines per request, default 3
}

// Poller is the REST fallback for the kline stream. Each poll fetches the
// newest klines, forwards them as candle updates and emits the last close
// as a tick.
type Poller struct {
	cfg      PollConfig
	src      KlineSource
	detector *closedetector.Detector
	now      func() time.Time

	// OnError is called on each failed poll.
	OnError func(err error)
}

// NewPoller creates a Poller. The detector is primed by the first poll.
func NewPoller(cfg PollConfig, src KlineSource, detector *closedetector.Detector) *Poller {
	if cfg.Every <= 0 {
		cfg.Every = 10 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	return &Poller{cfg: cfg, src: src, detector: detector, now: time.Now}
}

// Start polls until ctx is cancelled. Candle updates are sent blocking;
// ticks are dropped when the consumer is behind.
func (p *Poller) Start(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- model.Tick) error {
	log.Printf("[poll] polling %s %s every %s", p.cfg.Symbol, p.cfg.Interval, p.cfg.Every)
	ticker := time.NewTicker(p.cfg.Every)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx, candleCh, tickCh); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[poll] %v", err)
			if p.OnError != nil {
				p.OnError(err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- model.Tick) error {
	candles, err := p.src.Klines(ctx, p.cfg.Symbol, p.cfg.Interval, p.cfg.Limit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}

	now := p.now()
	latest := candles[len(candles)-1]
	if p.detector.Observe(latest.TS, now) {
		log.Printf("[poll] candle closed, next close at %s", p.detector.NextClose(now).Format(time.RFC3339))
	}

	for _, c := range candles {
		select {
		case candleCh <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case tickCh <- model.Tick{Symbol: latest.Symbol, Price: latest.Close, TS: now}:
	default:
	}
	return nil
}
