// Package sqlite provides a SQLite-backed ledger store for single-host runs
// that prefer one queryable file over plain text logs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/yt-history-sync/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	url         TEXT PRIMARY KEY,
	outcome     TEXT NOT NULL CHECK (outcome IN ('processed', 'failed')),
	recorded_at TEXT NOT NULL
)`

// Config points at the database file.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Store persists ledger entries in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database, enables WAL, and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare sqlite ledger: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Load returns every stored entry.
func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, outcome, recorded_at FROM ledger_entries`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err checked below

	var entries []ledger.Entry
	for rows.Next() {
		var (
			entry      ledger.Entry
			outcome    string
			recordedAt string
		)
		if err := rows.Scan(&entry.URL, &outcome, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entry.Outcome = ledger.Outcome(outcome)
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			entry.RecordedAt = ts
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

// Append inserts the entry; an existing row for the URL is left untouched.
func (s *Store) Append(ctx context.Context, entry ledger.Entry) error {
	if !entry.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", entry.Outcome)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_entries (url, outcome, recorded_at) VALUES (?, ?, ?)`,
		entry.URL, string(entry.Outcome), entry.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
