package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
)

// Journal persists closed positions and capital adjustments to SQLite. It
// is the bot's trade store: append-only, one row per position.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// journalTime keeps a fixed width so text order matches time order.
const journalTime = "2006-01-02T15:04:05.000000000Z07:00"

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		id             TEXT PRIMARY KEY,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		entry_price    REAL NOT NULL,
		close_price    REAL NOT NULL,
		stake          REAL NOT NULL,
		leverage       REAL NOT NULL,
		notional       REAL NOT NULL,
		initial_stop   REAL NOT NULL,
		trailing_stop  REAL NOT NULL,
		extreme_price  REAL NOT NULL,
		pnl_percent    REAL NOT NULL,
		pnl_dollar     REAL NOT NULL,
		close_reason   TEXT,
		opened_at      DATETIME NOT NULL,
		closed_at      DATETIME NOT NULL,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at);
	CREATE INDEX IF NOT EXISTS idx_positions_side ON positions(side);

	CREATE TABLE IF NOT EXISTS capital_events (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		capital  REAL NOT NULL,
		at       DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordClosed persists a closed position. Recording the same ID twice is
// a no-op.
func (j *Journal) RecordClosed(p portfolio.Position) error {
	if p.Status != portfolio.StatusClosed || p.ClosedAt == nil || p.ClosePrice == nil {
		return fmt.Errorf("journal: position %s is not closed", p.ID)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO positions (id, symbol, side, entry_price, close_price, stake, leverage,
		 notional, initial_stop, trailing_stop, extreme_price, pnl_percent, pnl_dollar, close_reason,
		 opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, string(p.Side), p.EntryPrice, *p.ClosePrice, p.Stake, p.Leverage,
		p.Notional, p.InitialStop, p.TrailingStop, p.ExtremePrice, p.PnLPercent, p.PnLDollar,
		p.CloseReason,
		p.OpenedAt.UTC().Format(journalTime),
		p.ClosedAt.UTC().Format(journalTime),
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", p.ID, err)
	}
	return nil
}

// Recent returns the last limit closed positions, newest first.
func (j *Journal) Recent(limit int) ([]portfolio.Position, error) {
	return j.query(`SELECT `+positionCols+` FROM positions ORDER BY closed_at DESC LIMIT ?`, limit)
}

// All returns every closed position, oldest first.
func (j *Journal) All() ([]portfolio.Position, error) {
	return j.query(`SELECT ` + positionCols + ` FROM positions ORDER BY closed_at ASC`)
}

const positionCols = `id, symbol, side, entry_price, close_price, stake, leverage, notional,
	initial_stop, trailing_stop, extreme_price, pnl_percent, pnl_dollar, close_reason,
	opened_at, closed_at`

func (j *Journal) query(q string, args ...interface{}) ([]portfolio.Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Position
	for rows.Next() {
		var (
			p                  portfolio.Position
			side               string
			closePrice         float64
			reason             sql.NullString
			openedAt, closedAt string
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &p.EntryPrice, &closePrice, &p.Stake,
			&p.Leverage, &p.Notional, &p.InitialStop, &p.TrailingStop, &p.ExtremePrice,
			&p.PnLPercent, &p.PnLDollar, &reason, &openedAt, &closedAt); err != nil {
			log.Printf("[journal] scan error: %v", err)
			continue
		}
		p.Side = model.Side(side)
		p.Status = portfolio.StatusClosed
		p.CurrentPrice = closePrice
		p.ClosePrice = &closePrice
		p.CloseReason = reason.String
		p.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		if ts, err := time.Parse(time.RFC3339Nano, closedAt); err == nil {
			p.ClosedAt = &ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordCapital persists an operator capital adjustment.
func (j *Journal) RecordCapital(a portfolio.CapitalAdjustment) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT INTO capital_events (capital, at) VALUES (?, ?)`,
		a.Capital, a.At.UTC().Format(journalTime))
	if err != nil {
		return fmt.Errorf("journal insert capital: %w", err)
	}
	return nil
}

// Adjustments returns every capital adjustment, oldest first.
func (j *Journal) Adjustments() ([]portfolio.CapitalAdjustment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT capital, at FROM capital_events ORDER BY at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal query capital: %w", err)
	}
	defer rows.Close()

	var out []portfolio.CapitalAdjustment
	for rows.Next() {
		var (
			a  portfolio.CapitalAdjustment
			at string
		)
		if err := rows.Scan(&a.Capital, &at); err != nil {
			return nil, fmt.Errorf("journal scan capital: %w", err)
		}
		if a.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("journal capital time %q: %w", at, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
