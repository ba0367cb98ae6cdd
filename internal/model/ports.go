package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the feed and backtest tooling from the concrete
// candle store. Position-level ports live next to their consumer in
// internal/execution to avoid an import cycle with internal/portfolio.

// CandleWriter persists closed candles.
type CandleWriter interface {
	// WriteCandles stores candles for the given interval, replacing rows that
	// share (symbol, interval, ts).
	WriteCandles(ctx context.Context, interval string, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads stored candles for backfill and replay.
type CandleReader interface {
	// ReadCandles returns candles for symbol/interval with TS after afterTS
	// (unix milliseconds), ordered by TS ascending.
	ReadCandles(symbol, interval string, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
