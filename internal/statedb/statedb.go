// Package statedb persists daily usage history in SQLite so the stats
// pane can show spend beyond the in-memory day. One table, WAL mode,
// safe for concurrent hydra processes on the same machine.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// UsageRow is one provider's totals for one calendar day.
type UsageRow struct {
	Date     string // yyyy-mm-dd, local
	Provider string
	Cost     float64
	Tokens   uint64
}

// StateDB wraps the SQLite handle.
type StateDB struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath with WAL mode and a busy
// timeout so concurrent hydra instances don't trip over each other.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates the schema if needed.
func (s *StateDB) Migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_history (
			date     TEXT NOT NULL,
			provider TEXT NOT NULL,
			cost     REAL NOT NULL DEFAULT 0,
			tokens   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, provider)
		)`)
	if err != nil {
		return fmt.Errorf("statedb: migrate: %w", err)
	}
	return nil
}

// UpsertDailyUsage records one provider's running totals for a day.
// Totals replace, not add: the caller owns accumulation.
func (s *StateDB) UpsertDailyUsage(date, provider string, cost float64, tokens uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_history (date, provider, cost, tokens)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, provider) DO UPDATE SET cost = excluded.cost, tokens = excluded.tokens`,
		date, provider, cost, tokens)
	if err != nil {
		return fmt.Errorf("statedb: upsert usage: %w", err)
	}
	return nil
}

// RecentUsage returns up to days*providers rows, newest first.
func (s *StateDB) RecentUsage(days int) ([]UsageRow, error) {
	rows, err := s.db.Query(`
		SELECT date, provider, cost, tokens FROM usage_history
		ORDER BY date DESC, provider ASC
		LIMIT ?`, days*3)
	if err != nil {
		return nil, fmt.Errorf("statedb: recent usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.Date, &r.Provider, &r.Cost, &r.Tokens); err != nil {
			return nil, fmt.Errorf("statedb: scan usage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
