// cmd/backfill downloads historical klines from Binance into the candle
// archive so cmd/backtest has data to replay. It resumes after the newest
// stored candle.
//
// Usage:
//
//	go run ./cmd/backfill --days=30
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/elPachango/bitbot/config"
	sqlitestore "github.com/elPachango/bitbot/internal/store/sqlite"
	"github.com/elPachango/bitbot/pkg/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	symbol := flag.String("symbol", cfg.Symbol, "Binance symbol")
	interval := flag.String("interval", cfg.Interval, "Kline interval")
	days := flag.Int("days", 7, "History to fetch when the archive is empty")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	flag.Parse()

	step, err := binance.IntervalDuration(*interval)
	if err != nil {
		log.Fatalf("[backfill] %v", err)
	}

	os.MkdirAll(filepath.Dir(*dbPath), 0o755)
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backfill] sqlite open failed: %v", err)
	}
	defer writer.Close()

	end := time.Now().UTC().Truncate(step) // exclude the forming candle
	start := end.Add(-time.Duration(*days) * 24 * time.Hour)
	last, err := writer.LastTimestamp(*symbol, *interval)
	if err != nil {
		log.Fatalf("[backfill] %v", err)
	}
	if !last.IsZero() && last.Add(step).After(start) {
		start = last.Add(step)
	}
	if !start.Before(end) {
		log.Printf("[backfill] %s %s already up to date (last %s)", *symbol, *interval, last.Format(time.RFC3339))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("[backfill] fetching %s %s from %s to %s", *symbol, *interval,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	client := binance.NewClient(binance.Config{RootURL: cfg.BinanceRESTURL})
	candles, fetchErr := client.HistoricalKlines(ctx, *symbol, *interval, start, end)
	if fetchErr != nil {
		// Keep what was paged in; the next run resumes from it.
		log.Printf("[backfill] fetch stopped after %d candles: %v", len(candles), fetchErr)
	}

	closed := candles[:0]
	for _, c := range candles {
		if c.TS.Before(end) {
			closed = append(closed, c)
		}
	}
	// A cancelled fetch still stores what arrived.
	if err := writer.WriteCandles(context.Background(), *interval, closed); err != nil {
		log.Fatalf("[backfill] write failed: %v", err)
	}
	log.Printf("[backfill] stored %d candles in %s", len(closed), *dbPath)
	if fetchErr != nil {
		writer.Close()
		os.Exit(1)
	}
}
