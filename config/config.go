// Package config loads bot and gateway settings from environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Feed modes.
const (
	FeedWS   = "ws"
	FeedPoll = "poll"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market
	Symbol         string
	Interval       string
	BinanceRESTURL string
	BinanceWSURL   string
	FeedMode       string
	PollInterval   time.Duration
	HistoryLimit   int

	// Strategy
	RSIPeriod         int
	StochPeriod       int
	KSmooth           int
	DSmooth           int
	Oversold          float64
	Overbought        float64
	PendingMaxCandles int

	// Ledger
	InitialCapital float64
	StakePerTrade  float64
	Leverage       float64
	StopLossPct    float64
	SlippagePct    float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string
	GatewayAddr   string

	// Operator
	ControlTOTPSecret string
	TelegramBotToken  string
	TelegramChatID    string
	WebhookURL        string
	LogLevel          string
}

// Load reads configuration from environment variables with defaults that
// reproduce the stock setup: BTCUSDT 5m, StochRSI(15,5,3,3), $35 capital,
// $25 stake at 50x, 5% trailing stop, 0.05% slippage.
func Load() *Config {
	return &Config{
		Symbol:         getEnv("SYMBOL", "BTCUSDT"),
		Interval:       getEnv("INTERVAL", "5m"),
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
		FeedMode:       getEnv("FEED_MODE", FeedWS),
		PollInterval:   time.Duration(getEnvInt("POLL_INTERVAL_SEC", 10)) * time.Second,
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 200),

		RSIPeriod:         getEnvInt("RSI_PERIOD", 15),
		StochPeriod:       getEnvInt("STOCH_PERIOD", 5),
		KSmooth:           getEnvInt("K_SMOOTH", 3),
		DSmooth:           getEnvInt("D_SMOOTH", 3),
		Oversold:          getEnvFloat("OVERSOLD", 20),
		Overbought:        getEnvFloat("OVERBOUGHT", 80),
		PendingMaxCandles: getEnvInt("PENDING_MAX_CANDLES", 0),

		InitialCapital: getEnvFloat("INITIAL_CAPITAL", 35),
		StakePerTrade:  getEnvFloat("STAKE_PER_TRADE", 25),
		Leverage:       getEnvFloat("LEVERAGE", 50),
		StopLossPct:    getEnvFloat("STOP_LOSS_PCT", 5),
		SlippagePct:    getEnvFloat("SLIPPAGE_PCT", 0.05),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		ControlTOTPSecret: getEnv("CONTROL_TOTP_SECRET", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// Validate rejects settings the bot cannot run with. Strategy and ledger
// parameters are validated again by their own packages.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("config: SYMBOL is empty")
	}
	if c.FeedMode != FeedWS && c.FeedMode != FeedPoll {
		return fmt.Errorf("config: FEED_MODE must be %q or %q, got %q", FeedWS, FeedPoll, c.FeedMode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL_SEC must be positive")
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		return fmt.Errorf("config: HISTORY_LIMIT must be in [1, 1000], got %d", c.HistoryLimit)
	}
	if c.PendingMaxCandles < 0 {
		return fmt.Errorf("config: PENDING_MAX_CANDLES must not be negative")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("config: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
