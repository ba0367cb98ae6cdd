// cmd/gateway serves the dashboard: REST snapshots, a WebSocket relay of
// the bot's Redis channels and TOTP-guarded control endpoints.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elPachango/bitbot/config"
	"github.com/elPachango/bitbot/internal/gateway"
	"github.com/elPachango/bitbot/internal/logger"
	redisstore "github.com/elPachango/bitbot/internal/store/redis"
	"github.com/elPachango/bitbot/pkg/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	start := time.Now()

	cfg := config.Load()
	logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))
	log.Println("[gateway] starting...")

	interval, err := binance.IntervalDuration(cfg.Interval)
	if err != nil {
		log.Fatalf("[gateway] %v", err)
	}

	rdb, err := redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	reader := redisstore.NewReader(rdb, cfg.Symbol)
	defer reader.Close()
	log.Printf("[gateway] redis connected at %s", cfg.RedisAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := gateway.NewMetrics(prometheus.DefaultRegisterer)
	hub := gateway.NewHub(reader, interval, m)
	sys := gateway.NewSystemSampler(start)
	go hub.Run(ctx)
	go hub.StartClock(ctx, sys)

	guard := gateway.NewTOTPGuard(cfg.ControlTOTPSecret)
	if !guard.Enabled() {
		log.Println("[gateway] WARNING: CONTROL_TOTP_SECRET not set, control endpoints are open")
	}

	srv := &gateway.Server{Hub: hub, Src: reader, Guard: guard, Sys: sys, M: m, Start: start}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[gateway] listening on %s", cfg.GatewayAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[gateway] shutdown signal received...")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	httpSrv.Shutdown(shutCtx)
	log.Println("[gateway] shutdown complete.")
}
