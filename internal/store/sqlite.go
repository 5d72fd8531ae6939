// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides call ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// openSQLite opens path with WAL enabled, creating the parent directory.
func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	return db, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS calls (
			id            TEXT PRIMARY KEY,
			method        TEXT NOT NULL,
			kind          TEXT NOT NULL,
			status        TEXT NOT NULL,
			error_code    TEXT,
			error_message TEXT,
			updates       INTEGER NOT NULL DEFAULT 0,
			dropped       INTEGER NOT NULL DEFAULT 0,
			started_at    TEXT NOT NULL,
			finished_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_calls_started
			ON calls(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordCall inserts or replaces a ledger row.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec *CallRecord) error {
	query := `
		INSERT INTO calls (id, method, kind, status, error_code, error_message, updates, dropped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			updates = excluded.updates,
			dropped = excluded.dropped,
			finished_at = excluded.finished_at
	`

	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Method,
		rec.Kind,
		rec.Status,
		nullString(rec.ErrorCode),
		nullString(rec.ErrorMessage),
		rec.Updates,
		rec.Dropped,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
	)
	if err != nil {
		return fmt.Errorf("recording call: %w", err)
	}

	s.logger.Debug("recorded call", "id", rec.ID, "method", rec.Method, "status", rec.Status)
	return nil
}

// GetCall retrieves a ledger row by ID.
// Returns ErrNotFound if the call doesn't exist.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	query := `
		SELECT id, method, kind, status, error_code, error_message, updates, dropped, started_at, finished_at
		FROM calls
		WHERE id = ?
	`
	rec, err := scanCall(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying call: %w", err)
	}
	return rec, nil
}

// ListCalls returns up to limit rows, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, method, kind, status, error_code, error_message, updates, dropped, started_at, finished_at
		FROM calls
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	out := make([]*CallRecord, 0, limit)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*CallRecord, error) {
	var (
		rec                 CallRecord
		errCode, errMessage sql.NullString
		startedAt           string
		finishedAt          sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Method,
		&rec.Kind,
		&rec.Status,
		&errCode,
		&errMessage,
		&rec.Updates,
		&rec.Dropped,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	rec.ErrorCode = errCode.String
	rec.ErrorMessage = errMessage.String

	var err error
	rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
