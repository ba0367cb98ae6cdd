// Package bot wires the market feed, the trader and the dashboard
// publisher into one process and manages its lifecycle.
package bot

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/elPachango/bitbot/config"
	"github.com/elPachango/bitbot/internal/execution"
	"github.com/elPachango/bitbot/internal/indicator"
	"github.com/elPachango/bitbot/internal/marketdata/closedetector"
	"github.com/elPachango/bitbot/internal/marketdata/feed"
	"github.com/elPachango/bitbot/internal/metrics"
	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/notification"
	"github.com/elPachango/bitbot/internal/portfolio"
	redisstore "github.com/elPachango/bitbot/internal/store/redis"
	sqlitestore "github.com/elPachango/bitbot/internal/store/sqlite"
	"github.com/elPachango/bitbot/internal/strategy"
	"github.com/elPachango/bitbot/pkg/binance"
)

// restClient is the slice of the Binance REST API the bot uses.
type restClient interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	Change24h(ctx context.Context, symbol string) (float64, error)
}

// Service is the top-level orchestrator for the bot.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg      *config.Config
	interval time.Duration

	rest      restClient
	rdb       *goredis.Client
	pub       *redisstore.Publisher
	sqlWriter *sqlitestore.Writer
	sqlReader *sqlitestore.Reader
	journal   *execution.Journal

	feed    *feed.Feed
	watch   *closedetector.Detector
	trader  *execution.Trader
	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	metrics *metrics.Server

	wg sync.WaitGroup // trader and archive goroutines
}

// New creates a Service from cfg. It connects to Redis and SQLite, replays
// the trade journal into the ledger and builds the trader. Redis and the
// candle archive are optional; the journal is not.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval, err := binance.IntervalDuration(cfg.Interval)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:      cfg,
		interval: interval,
		rest:     binance.NewClient(binance.Config{RootURL: cfg.BinanceRESTURL}),
		feed:     feed.New(cfg.Symbol, interval, cfg.HistoryLimit),
		watch:    closedetector.New(interval),
		prom:     metrics.NewMetrics(nil),
		health:   metrics.NewHealthStatus(cfg.FeedMode),
	}
	svc.feed.OnDrop = func() { svc.prom.SnapshotDrops.Inc() }
	svc.metrics = metrics.NewServer(cfg.MetricsAddr, svc.health)

	// ---- Connect to Redis ----
	svc.rdb, err = redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Printf("[bot] WARNING: redis init failed: %v (continuing without dashboard)", err)
		svc.rdb = nil
	} else {
		svc.pub = redisstore.NewPublisher(svc.rdb, cfg.Symbol, svc.prom)
		svc.health.SetRedisConnected(true)
	}

	// ---- Open SQLite ----
	if err := ensureDir(cfg.SQLitePath); err != nil {
		log.Printf("[bot] WARNING: %v", err)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[bot] WARNING: sqlite writer init failed: %v (candles will not be archived)", err)
		svc.sqlWriter = nil
	} else {
		svc.sqlWriter.OnCommit = func(n int, took time.Duration) {
			svc.prom.SQLiteCommitDur.Observe(took.Seconds())
		}
		svc.health.SetSQLiteOK(true)
		if svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath); err != nil {
			log.Printf("[bot] WARNING: sqlite reader init failed: %v", err)
			svc.sqlReader = nil
		}
	}

	if err := ensureDir(cfg.JournalPath); err != nil {
		svc.close()
		return nil, err
	}
	svc.journal, err = execution.NewJournal(cfg.JournalPath)
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.trader, err = svc.buildTrader()
	if err != nil {
		svc.close()
		return nil, err
	}
	return svc, nil
}

// ensureDir creates the parent directory of a database file.
func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// buildTrader assembles the strategy engine and a ledger restored from the
// journal.
func (svc *Service) buildTrader() (*execution.Trader, error) {
	cfg := svc.cfg
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
		return nil, err
	}

	ledger, err := portfolio.NewLedger(portfolio.Config{
		Symbol:         cfg.Symbol,
		InitialCapital: cfg.InitialCapital,
		StakePerTrade:  cfg.StakePerTrade,
		Leverage:       cfg.Leverage,
		StopLossPct:    cfg.StopLossPct,
		SlippagePct:    cfg.SlippagePct,
	})
	if err != nil {
		return nil, err
	}
	history, err := svc.journal.All()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	adjustments, err := svc.journal.Adjustments()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if err := ledger.Restore(history, adjustments); err != nil {
		return nil, fmt.Errorf("restore journal: %w", err)
	}
	if len(history)+len(adjustments) > 0 {
		log.Printf("[bot] restored %d closed positions and %d capital adjustments, capital $%.2f",
			len(history), len(adjustments), ledger.Capital())
	}

	tc := execution.Config{
		Symbol:   cfg.Symbol,
		Engine:   strategy.NewEngine(ev, cfg.PendingMaxCandles),
		Ledger:   ledger,
		Store:    svc.journal,
		Notifier: svc.notifier(),
		Metrics:  svc.prom,
	}
	if svc.pub != nil {
		tc.Publisher = svc.pub
	}
	return execution.NewTrader(tc), nil
}

// notifier always logs and adds Telegram and webhook delivery when they are
// configured.
func (svc *Service) notifier() notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if svc.cfg.TelegramBotToken != "" {
		multi = append(multi, notification.NewTelegramNotifier(svc.cfg.TelegramBotToken, svc.cfg.TelegramChatID))
	}
	if svc.cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	return multi
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Printf("[bot] starting %s %s bot...", cfg.Symbol, cfg.Interval)

	svc.metrics.Start()
	svc.health.StartLivenessChecker(ctx, svc.rdb, svc.sqlDB(), 10*time.Second)

	// ---- Seed history from REST ----
	if err := svc.resync(ctx); err != nil {
		log.Printf("[bot] WARNING: history seed failed: %v", err)
		svc.seedFromArchive()
	}

	// ---- Start pipeline ----
	svc.startPipeline(ctx)

	// ---- Operator commands ----
	if svc.rdb != nil {
		go func() {
			if err := redisstore.ConsumeCommands(ctx, svc.rdb, cfg.Symbol, commandHandler(svc.trader, svc.health)); err != nil {
				log.Printf("[bot] command consumer stopped: %v", err)
			}
		}()
		go svc.marketLoop(ctx, svc.pub, 10*time.Second)
	}

	// ---- Startup banner ----
	log.Println("[bot] ╔════════════════════════════════════════════════════════╗")
	log.Println("[bot] ║  Stochastic RSI Bot Active (simulated trading)        ║")
	log.Println("[bot] ║                                                       ║")
	log.Println("[bot] ║  [Binance] → [Feed] → [StochRSI] → [Ledger] → [Redis] ║")
	log.Printf("[bot] ║  %s %s via %s, StochRSI(%d,%d,%d,%d) %g/%g", cfg.Symbol, cfg.Interval, cfg.FeedMode,
		cfg.RSIPeriod, cfg.StochPeriod, cfg.KSmooth, cfg.DSmooth, cfg.Oversold, cfg.Overbought)
	log.Printf("[bot] ║  $%.2f per trade at %gx, stop %g%%, slippage %g%%", cfg.StakePerTrade, cfg.Leverage, cfg.StopLossPct, cfg.SlippagePct)
	log.Println("[bot] ╚════════════════════════════════════════════════════════╝")
	log.Println("[bot] ✅ all systems running. Press Ctrl+C to stop.")

	// Block until context cancelled
	<-ctx.Done()

	svc.shutdown()
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown stops the HTTP server and closes connections.
func (svc *Service) shutdown() {
	log.Println("[bot] shutdown signal received, cleaning up...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.metrics.Stop(shutCtx)

	// The trader may still be journaling and the archive flushing.
	if err := svc.wait(shutCtx); err != nil {
		log.Printf("[bot] WARNING: pipeline did not stop in time: %v", err)
	}
	svc.close()
	log.Println("[bot] shutdown complete.")
}

func (svc *Service) close() {
	if svc.journal != nil {
		svc.journal.Close()
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.pub != nil {
		svc.pub.Close()
	}
}
