package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Market data
	TicksTotal    prometheus.Counter
	CandlesTotal  prometheus.Counter
	WSReconnects  prometheus.Counter
	FeedRejected  prometheus.Counter
	CandleLag     prometheus.Gauge
	PollErrors    prometheus.Counter
	SnapshotDrops prometheus.Counter

	// Strategy
	EvaluationsTotal *prometheus.CounterVec // labels: signal
	EvaluationErrors prometheus.Counter
	EvaluateDur      prometheus.Histogram
	StochK           prometheus.Gauge
	StochD           prometheus.Gauge
	DeferredSignals  prometheus.Counter

	// Ledger
	PositionsOpened *prometheus.CounterVec // labels: side
	PositionsClosed *prometheus.CounterVec // labels: side, reason
	OpenRejected    *prometheus.CounterVec // labels: reason
	Capital         prometheus.Gauge
	UnrealizedPnL   prometheus.Gauge
	OpenPositions   prometheus.Gauge

	// Storage
	RedisWriteDur            prometheus.Histogram
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg. A nil reg
// registers on the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_ticks_total",
			Help: "Total price ticks applied to open positions",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_candles_total",
			Help: "Total closed candles handed to the strategy",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		FeedRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_feed_rejected_total",
			Help: "Candles rejected by the feed as malformed or out of order",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_candle_lag_seconds",
			Help: "Lag between candle close time and its evaluation",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_poll_errors_total",
			Help: "REST polling failures",
		}),
		SnapshotDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_snapshot_drops_total",
			Help: "Closed-series snapshots replaced before the trader consumed them",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_evaluations_total",
			Help: "Strategy evaluations by resulting signal",
		}, []string{"signal"}),
		EvaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_evaluation_errors_total",
			Help: "Evaluations aborted by malformed input",
		}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitbot_evaluate_duration_seconds",
			Help:    "Strategy evaluation latency per closed candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		StochK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_stochrsi_k",
			Help: "Latest Stochastic RSI %K",
		}),
		StochD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_stochrsi_d",
			Help: "Latest Stochastic RSI %D",
		}),
		DeferredSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_deferred_signals_total",
			Help: "Entry checks deferred by the confirmation gate",
		}),

		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_positions_opened_total",
			Help: "Positions opened by side",
		}, []string{"side"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_positions_closed_total",
			Help: "Positions closed by side and reason",
		}, []string{"side", "reason"}),
		OpenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbot_open_rejected_total",
			Help: "Entry attempts rejected by the ledger",
		}, []string{"reason"}),
		Capital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_capital",
			Help: "Settled capital",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_unrealized_pnl",
			Help: "Sum of open position P&L",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_open_positions",
			Help: "Number of open positions",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitbot_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitbot_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.FeedRejected,
		m.CandleLag,
		m.PollErrors,
		m.SnapshotDrops,
		m.EvaluationsTotal,
		m.EvaluationErrors,
		m.EvaluateDur,
		m.StochK,
		m.StochD,
		m.DeferredSignals,
		m.PositionsOpened,
		m.PositionsClosed,
		m.OpenRejected,
		m.Capital,
		m.UnrealizedPnL,
		m.OpenPositions,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedMode       string    `json:"feed_mode"`
	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Paused         bool      `json:"paused"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(feedMode string) *HealthStatus {
	return &HealthStatus{
		FeedMode:  feedMode,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaused(v bool) {
	h.mu.Lock()
	h.Paused = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedMode        string  `json:"feed_mode"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		LastCandleTime  string  `json:"last_candle_time"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		Paused          bool    `json:"paused"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedMode:        h.FeedMode,
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Paused:          h.Paused,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
