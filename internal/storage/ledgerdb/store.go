// Package ledgerdb stores the virtual ledger in a single SQLite database.
package ledgerdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	qty    REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	date   TEXT NOT NULL,
	symbol TEXT NOT NULL,
	qty    REAL NOT NULL,
	price  REAL NOT NULL,
	value  REAL NOT NULL,
	reason TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nav (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	date      TEXT NOT NULL,
	nav       REAL NOT NULL,
	cash      REAL NOT NULL,
	value     REAL NOT NULL,
	benchmark REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a SQLite-backed LedgerStore.
type Store struct {
	conn   *sql.DB
	path   string
	logger *common.Logger
}

// NewStore opens (or creates) the database at dbPath and applies the schema.
func NewStore(logger *common.Logger, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; one connection also keeps :memory: databases shared
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("Ledger database opened")
	return &Store{conn: conn, path: dbPath, logger: logger}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nav) + (SELECT COUNT(*) FROM meta WHERE key = 'initialized')`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

func (s *Store) LoadPositions(ctx context.Context) (models.Positions, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT symbol, qty FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	defer rows.Close()

	positions := models.Positions{}
	for rows.Next() {
		var symbol string
		var qty float64
		if err := rows.Scan(&symbol, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions[symbol] = qty
	}
	return positions, rows.Err()
}

// SavePositions replaces the whole positions table in one transaction.
func (s *Store) SavePositions(ctx context.Context, positions models.Positions) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	for _, symbol := range positions.Symbols() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO positions (symbol, qty) VALUES (?, ?)`,
			symbol, positions[symbol]); err != nil {
			return fmt.Errorf("failed to save position %s: %w", symbol, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('initialized', '1') ON CONFLICT(key) DO NOTHING`); err != nil {
		return fmt.Errorf("failed to mark ledger: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AppendTrades(ctx context.Context, trades []models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades (date, symbol, qty, price, value, reason) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, t.Date, t.Symbol, t.DeltaQty, t.Price, t.Value, t.Reason); err != nil {
			return fmt.Errorf("failed to append trade %s: %w", t.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Trades(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT date, symbol, qty, price, value, reason FROM trades ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		if err := rows.Scan(&t.Date, &t.Symbol, &t.DeltaQty, &t.Price, &t.Value, &t.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) AppendNav(ctx context.Context, row models.NavRecord) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO nav (date, nav, cash, value, benchmark) VALUES (?, ?, ?, ?, ?)`,
		row.Date, row.NAV, row.Cash, row.Value, row.Benchmark)
	if err != nil {
		return fmt.Errorf("failed to append NAV row: %w", err)
	}
	return nil
}

func (s *Store) NavHistory(ctx context.Context) ([]models.NavRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT date, nav, cash, value, benchmark FROM nav ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query NAV: %w", err)
	}
	defer rows.Close()

	var history []models.NavRecord
	for rows.Next() {
		var r models.NavRecord
		if err := rows.Scan(&r.Date, &r.NAV, &r.Cash, &r.Value, &r.Benchmark); err != nil {
			return nil, fmt.Errorf("failed to scan NAV row: %w", err)
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

func (s *Store) LastNav(ctx context.Context) (*models.NavRecord, error) {
	var r models.NavRecord
	err := s.conn.QueryRowContext(ctx,
		`SELECT date, nav, cash, value, benchmark FROM nav ORDER BY id DESC LIMIT 1`).
		Scan(&r.Date, &r.NAV, &r.Cash, &r.Value, &r.Benchmark)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last NAV row: %w", err)
	}
	return &r, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
