// cmd/bot runs the Stochastic RSI trading bot against live Binance data.
// Trades are simulated; nothing is sent to the exchange.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/elPachango/bitbot/config"
	"github.com/elPachango/bitbot/internal/bot"
	"github.com/elPachango/bitbot/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("bot", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[bot] %s %s, feed=%s, metrics on %s", cfg.Symbol, cfg.Interval, cfg.FeedMode, cfg.MetricsAddr)

	svc, err := bot.New(cfg)
	if err != nil {
		log.Fatalf("[bot] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[bot] fatal: %v", err)
	}
}
