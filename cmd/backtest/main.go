// cmd/backtest replays archived candles from SQLite through the Stochastic
// RSI strategy and the simulated ledger, then prints the trade statistics.
//
// Usage:
//
//	go run ./cmd/backtest --speed=0 --from=0 --intrabar
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elPachango/bitbot/config"
	"github.com/elPachango/bitbot/internal/backtest"
	"github.com/elPachango/bitbot/internal/execution"
	"github.com/elPachango/bitbot/internal/indicator"
	"github.com/elPachango/bitbot/internal/logger"
	"github.com/elPachango/bitbot/internal/marketdata/replay"
	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
	sqlitestore "github.com/elPachango/bitbot/internal/store/sqlite"
	"github.com/elPachango/bitbot/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromTS := flag.Int64("from", 0, "Unix ms timestamp to start replay from (0=all)")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	symbol := flag.String("symbol", cfg.Symbol, "Symbol to replay")
	interval := flag.String("interval", cfg.Interval, "Candle interval to replay")
	intrabar := flag.Bool("intrabar", true, "Apply each bar's high/low as ticks so stops can trigger inside the bar")
	jsonOut := flag.Bool("json", false, "Print the result as JSON")
	flag.Parse()

	logger.Init("backtest", logger.ParseLevel(getLogLevel(cfg.LogLevel)))

	// Open SQLite
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	// Build strategy and ledger
	ev, err := strategy.NewEvaluator(strategy.Config{
		Params: indicator.Params{
			RSIPeriod:   cfg.RSIPeriod,
			StochPeriod: cfg.StochPeriod,
			KSmooth:     cfg.KSmooth,
			DSmooth:     cfg.DSmooth,
		},
		Oversold:   cfg.Oversold,
		Overbought: cfg.Overbought,
	})
	if err != nil {
		log.Fatalf("[backtest] strategy: %v", err)
	}
	clock := &backtest.SimClock{}
	ledger, err := portfolio.NewLedger(portfolio.Config{
		Symbol:         *symbol,
		InitialCapital: cfg.InitialCapital,
		StakePerTrade:  cfg.StakePerTrade,
		Leverage:       cfg.Leverage,
		StopLossPct:    cfg.StopLossPct,
		SlippagePct:    cfg.SlippagePct,
		Clock:          clock.Now,
	})
	if err != nil {
		log.Fatalf("[backtest] ledger: %v", err)
	}
	tr := execution.NewTrader(execution.Config{
		Symbol:  *symbol,
		Engine:  strategy.NewEngine(ev, cfg.PendingMaxCandles),
		Ledger:  ledger,
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	})

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Replay in background
	replayer := replay.New(reader)
	candleCh := make(chan model.Candle, 1000)
	go func() {
		if _, err := replayer.Run(ctx, *symbol, *interval, *fromTS, *speed, candleCh); err != nil && ctx.Err() == nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(candleCh)
	}()

	res, err := backtest.Run(ctx, backtest.Config{
		Symbol:   *symbol,
		History:  cfg.HistoryLimit,
		Intrabar: *intrabar,
		Clock:    clock,
	}, candleCh, tr)
	if err != nil {
		log.Printf("[backtest] stopped early: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
		return
	}
	printSummary(*symbol, *interval, res)
}

func printSummary(symbol, interval string, res backtest.Result) {
	for _, p := range res.Closed {
		fmt.Printf("  %s  %-5s  %10.2f → %10.2f  %8.2f%%  $%8.2f  %s\n",
			p.OpenedAt.Format("2006-01-02 15:04"), p.Side, p.EntryPrice, *p.ClosePrice,
			p.PnLPercent, p.PnLDollar, p.CloseReason)
	}

	s := res.Stats
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Market:            %-16s ║\n", symbol+" "+interval)
	fmt.Printf("║  Candles processed: %-16d ║\n", res.Candles)
	fmt.Printf("║  Candles rejected:  %-16d ║\n", res.Rejected)
	fmt.Printf("║  Trades:            %-16d ║\n", s.TotalTrades)
	fmt.Printf("║  Won / lost:        %-16s ║\n", fmt.Sprintf("%d / %d", s.Wins, s.Losses))
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", s.WinRate))
	fmt.Printf("║  Total P&L:         %-16s ║\n", fmt.Sprintf("$%.2f (%.1f%%)", s.TotalPnL, s.TotalPnLPercent))
	fmt.Printf("║  Biggest win/loss:  %-16s ║\n", fmt.Sprintf("$%.2f / $%.2f", s.LargestWin, s.LargestLoss))
	fmt.Printf("║  Max drawdown:      %-16s ║\n", fmt.Sprintf("%.1f%%", s.MaxDrawdownPct))
	fmt.Printf("║  Final capital:     %-16s ║\n", fmt.Sprintf("$%.2f", s.CurrentCapital))
	fmt.Printf("║  Still open:        %-16d ║\n", len(res.Open))
	fmt.Println("╚══════════════════════════════════════╝")
}

// getLogLevel keeps per-candle evaluation logs quiet unless debugging.
func getLogLevel(level string) string {
	if level == "info" {
		return "warn"
	}
	return level
}
