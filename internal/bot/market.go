package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/pkg/binance"
)

// marketWindow is how many klines back the short-term changes look.
const marketWindow = 20

type marketPublisher interface {
	PublishMarket(ctx context.Context, ms model.MarketStats) error
}

// marketLoop publishes the price header on every tick of every.
func (svc *Service) marketLoop(ctx context.Context, pub marketPublisher, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ms, err := marketStats(reqCtx, svc.rest, svc.cfg.Symbol, svc.cfg.Interval, svc.interval, now)
			if err == nil {
				err = pub.PublishMarket(reqCtx, ms)
			}
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Printf("[bot] market stats: %v", err)
			}
		}
	}
}

// marketStats fetches recent klines and the 24h change. A failed 24h
// request leaves Change24h at zero.
func marketStats(ctx context.Context, src restClient, symbol, interval string, step time.Duration, now time.Time) (model.MarketStats, error) {
	candles, err := src.Klines(ctx, symbol, interval, marketWindow)
	if err != nil {
		return model.MarketStats{}, fmt.Errorf("klines: %w", err)
	}
	if len(candles) == 0 {
		return model.MarketStats{}, fmt.Errorf("klines: empty response")
	}
	stepMin := int(step / time.Minute)
	ms := model.MarketStats{
		Symbol:    symbol,
		Price:     candles[len(candles)-1].Close,
		Change15m: binance.PriceChange(candles, 15, stepMin),
		Change5m:  binance.PriceChange(candles, 5, stepMin),
		TS:        now,
	}
	if ch, err := src.Change24h(ctx, symbol); err != nil {
		log.Printf("[bot] 24h change: %v", err)
	} else {
		ms.Change24h = ch
	}
	return ms, nil
}
