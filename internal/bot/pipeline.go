package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/elPachango/bitbot/config"
	"github.com/elPachango/bitbot/internal/marketdata/bus"
	"github.com/elPachango/bitbot/internal/marketdata/closedetector"
	"github.com/elPachango/bitbot/internal/marketdata/feed"
	"github.com/elPachango/bitbot/internal/marketdata/ws"
	"github.com/elPachango/bitbot/internal/model"
)

// startPipeline launches the feed source, the merge loop, the snapshot
// fan-out, the candle archive and the trader.
//
//	[ws | poll] → candleCh → feed → snapshots ─┬→ trader
//	            → tickCh ──────────────────────┼→ trader, pub:tick
//	                                           └→ archive → sqlite
func (svc *Service) startPipeline(ctx context.Context) {
	candleCh := make(chan model.Candle, 256)
	tickCh := make(chan model.Tick, 256)
	traderTicks := make(chan model.Tick, 64)

	fanout := bus.New[[]model.Candle](16)
	fanout.OnDrop = func(name string) {
		svc.prom.SnapshotDrops.Inc()
		log.Printf("[bot] %s is behind, dropped a closed snapshot", name)
	}
	traderIn := fanout.Subscribe("trader")
	archiveIn := fanout.Subscribe("archive")
	go fanout.Run(ctx, svc.feed.ClosedSnapshots())

	svc.startArchive(ctx, archiveIn)

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		svc.trader.Run(ctx, traderIn, traderTicks)
	}()
	go svc.processLoop(ctx, candleCh, tickCh, traderTicks)
	go svc.runSource(ctx, candleCh, tickCh)
}

// startArchive stores the newest closed candle of every snapshot. The
// writer stops once the archive loop has ended and its queue is drained.
func (svc *Service) startArchive(ctx context.Context, in <-chan []model.Candle) {
	if svc.sqlWriter == nil {
		go archive(ctx, in, nil)
		return
	}
	archiveCh := make(chan model.Candle, 64)
	svc.wg.Add(2)
	go func() {
		defer svc.wg.Done()
		defer close(archiveCh)
		archive(ctx, in, archiveCh)
	}()
	go func() {
		defer svc.wg.Done()
		svc.sqlWriter.Run(context.Background(), svc.cfg.Interval, archiveCh)
	}()
}

// wait blocks until the trader and the archive have stopped or ctx expires.
func (svc *Service) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSource streams candle updates from the configured feed mode.
func (svc *Service) runSource(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- model.Tick) {
	cfg := svc.cfg
	if cfg.FeedMode == config.FeedPoll {
		poller := feed.NewPoller(feed.PollConfig{
			Symbol:   cfg.Symbol,
			Interval: cfg.Interval,
			Every:    cfg.PollInterval,
		}, svc.rest, closedetector.New(svc.interval))
		poller.OnError = func(error) {
			svc.prom.PollErrors.Inc()
			svc.health.SetFeedConnected(false)
		}
		svc.health.SetFeedConnected(true)
		if err := poller.Start(ctx, candleCh, tickCh); err != nil && ctx.Err() == nil {
			log.Printf("[bot] poller stopped: %v", err)
		}
		return
	}

	ingest, err := ws.New(ws.IngestConfig{
		URL:      cfg.BinanceWSURL,
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
	})
	if err != nil {
		log.Printf("[bot] ws init failed: %v", err)
		return
	}
	ingest.OnReconnect = func() { svc.prom.WSReconnects.Inc() }
	ingest.OnConnected = svc.health.SetFeedConnected
	if err := ingest.Start(ctx, candleCh, tickCh); err != nil {
		log.Printf("[bot] ws ingest stopped: %v", err)
	}
}

// processLoop merges candle updates into the feed, forwards ticks and
// watches for a stalled feed. It is the only goroutine touching svc.watch.
func (svc *Service) processLoop(ctx context.Context, candleCh <-chan model.Candle, tickCh <-chan model.Tick, traderTicks chan<- model.Tick) {
	watchdog := time.NewTicker(30 * time.Second)
	defer watchdog.Stop()
	stalled := false

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-candleCh:
			svc.handleCandle(ctx, c)
		case t := <-tickCh:
			svc.handleTick(ctx, t, traderTicks)
		case now := <-watchdog.C:
			overdue := svc.watch.Overdue(now)
			if overdue && !stalled {
				log.Printf("[bot] WARNING: no %s candle since %s, feed looks stalled",
					svc.cfg.Interval, svc.watch.LastOpen().Format(time.RFC3339))
				svc.health.SetFeedConnected(false)
			}
			stalled = overdue
		}
	}
}

// handleCandle applies one candle update. A gap triggers a REST resync;
// malformed or out-of-order updates are counted and dropped.
func (svc *Service) handleCandle(ctx context.Context, c model.Candle) {
	now := time.Now()
	closed, err := svc.feed.Apply(c)

	var bad *model.MalformedInputError
	switch {
	case errors.Is(err, feed.ErrGap):
		log.Printf("[bot] %v, resyncing history", err)
		if err := svc.resync(ctx); err != nil {
			// Restart warm-up from this candle rather than stall on the gap.
			log.Printf("[bot] resync failed: %v, restarting history at %s", err, c.TS.Format(time.RFC3339))
			svc.feed.Seed([]model.Candle{c})
		}
		return
	case errors.As(err, &bad):
		svc.prom.FeedRejected.Inc()
		log.Printf("[bot] rejected candle: %v", err)
		return
	case err != nil:
		svc.prom.FeedRejected.Inc()
		log.Printf("[bot] feed error: %v", err)
		return
	}

	svc.watch.Observe(c.TS, now)
	svc.health.SetLastCandleTime(now)
	if closed {
		log.Printf("[bot] %s candle closed at %.2f", svc.cfg.Symbol, c.Close)
	}
}

// handleTick forwards a price tick to the trader and the dashboard. Ticks
// are dropped rather than queued when the trader is busy.
func (svc *Service) handleTick(ctx context.Context, t model.Tick, traderTicks chan<- model.Tick) {
	svc.health.SetLastTickTime(time.Now())
	select {
	case traderTicks <- t:
	default:
	}
	if svc.pub != nil {
		pubCtx, cancel := context.WithTimeout(ctx, time.Second)
		svc.pub.PublishTick(pubCtx, t)
		cancel()
	}
}

// resync reseeds the feed from the REST history.
func (svc *Service) resync(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	candles, err := svc.rest.Klines(reqCtx, svc.cfg.Symbol, svc.cfg.Interval, svc.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if err := svc.feed.Seed(candles); err != nil {
		return err
	}
	if n := len(candles); n > 0 {
		svc.watch.Observe(candles[n-1].TS, time.Now())
	}
	return nil
}

// seedFromArchive warms the feed from the local candle archive when REST is
// unreachable at startup. A gap to the first live candle triggers a resync.
func (svc *Service) seedFromArchive() {
	if svc.sqlReader == nil {
		log.Println("[bot] no candle archive, warming up from live data")
		return
	}
	candles, err := svc.sqlReader.ReadLatest(svc.cfg.Symbol, svc.cfg.Interval, svc.cfg.HistoryLimit)
	if err != nil || len(candles) == 0 {
		log.Printf("[bot] archive empty or unreadable (%v), warming up from live data", err)
		return
	}
	if err := svc.feed.Seed(candles); err != nil {
		log.Printf("[bot] archive seed rejected: %v", err)
		return
	}
	svc.watch.Observe(candles[len(candles)-1].TS, time.Now())
	log.Printf("[bot] seeded %d candles from archive", len(candles))
}

// archive forwards the newest closed candle of each snapshot to out.
// A nil out only drains in.
func archive(ctx context.Context, in <-chan []model.Candle, out chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			if out == nil || len(snap) == 0 {
				continue
			}
			select {
			case out <- snap[len(snap)-1]:
			default:
				log.Printf("[bot] archive behind, skipping candle %d", snap[len(snap)-1].TS.UnixMilli())
			}
		}
	}
}
