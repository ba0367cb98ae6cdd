package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/elPachango/bitbot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored candles for warm-up and replay.
type Reader struct {
	db *sql.DB
}

var _ model.CandleReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns candles for symbol/interval with ts after afterTS
// (unix ms), ordered by ts ascending. Stored candles are always closed.
func (r *Reader) ReadCandles(symbol, interval string, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume, close_ts
		FROM candles
		WHERE symbol = ? AND interval = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, interval, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ts int64
		var volume sql.NullFloat64
		var closeTS sql.NullInt64
		if err := rows.Scan(&c.Symbol, &ts, &c.Open, &c.High, &c.Low, &c.Close, &volume, &closeTS); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.UnixMilli(ts).UTC()
		c.Volume = volume.Float64
		if closeTS.Valid && closeTS.Int64 > 0 {
			c.CloseTS = time.UnixMilli(closeTS.Int64).UTC()
		}
		c.Closed = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadLatest returns the newest limit candles for symbol/interval, oldest
// first.
func (r *Reader) ReadLatest(symbol, interval string, limit int) ([]model.Candle, error) {
	var from sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MIN(ts) FROM (
			SELECT ts FROM candles WHERE symbol = ? AND interval = ?
			ORDER BY ts DESC LIMIT ?
		)
	`, symbol, interval, limit).Scan(&from)
	if err != nil {
		return nil, fmt.Errorf("sqlite latest window: %w", err)
	}
	if !from.Valid {
		return nil, nil
	}
	return r.ReadCandles(symbol, interval, from.Int64-1)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
