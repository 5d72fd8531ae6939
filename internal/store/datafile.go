// ABOUTME: SQLite-backed data file owned by a background service.
// ABOUTME: Supports sync from another file, rollback to the pre-sync snapshot and reset.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrNoBackup is returned by Rollback when no snapshot exists.
var ErrNoBackup = errors.New("no backup to roll back to")

// DataFile is a key/value SQLite database with snapshot support.
type DataFile struct {
	mu     sync.RWMutex
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// OpenDataFile opens or creates the data file at path.
func OpenDataFile(path string, logger *slog.Logger) (*DataFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &DataFile{
		path:   path,
		logger: logger.With("component", "datafile"),
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *DataFile) open() error {
	db, err := openSQLite(f.path)
	if err != nil {
		return err
	}
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	f.db = db
	return nil
}

// Path returns the location of the data file.
func (f *DataFile) Path() string { return f.path }

func (f *DataFile) backupPath() string { return f.path + ".bak" }

// Put stores value under key.
func (f *DataFile) Put(ctx context.Context, key string, value []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, err := f.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}

// Get returns the value under key or ErrNotFound.
func (f *DataFile) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var value []byte
	err := f.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}
	return value, nil
}

// Sync snapshots the current contents and replaces them with the database at src.
func (f *DataFile) Sync(ctx context.Context, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.backupPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old backup: %w", err)
	}
	if _, err := f.db.ExecContext(ctx, `VACUUM INTO ?`, f.backupPath()); err != nil {
		return fmt.Errorf("snapshotting: %w", err)
	}

	if err := f.replaceLocked(src); err != nil {
		return err
	}
	f.logger.Info("data file synced", "src", src, "path", f.path)
	return nil
}

// Rollback restores the snapshot taken by the last Sync.
func (f *DataFile) Rollback(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.backupPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoBackup
		}
		return fmt.Errorf("checking backup: %w", err)
	}
	if err := f.replaceLocked(f.backupPath()); err != nil {
		return err
	}
	if err := os.Remove(f.backupPath()); err != nil {
		f.logger.Warn("failed to remove consumed backup", "error", err)
	}
	f.logger.Info("data file rolled back", "path", f.path)
	return nil
}

// Reset discards all contents.
func (f *DataFile) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.db.Close(); err != nil {
		return fmt.Errorf("closing data file: %w", err)
	}
	if err := removeDatabase(f.path); err != nil {
		return err
	}
	if err := f.open(); err != nil {
		return fmt.Errorf("reopening data file: %w", err)
	}
	f.logger.Info("data file reset", "path", f.path)
	return nil
}

// Close closes the data file.
func (f *DataFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.Close()
}

// replaceLocked swaps the file contents for a copy of src and reopens it.
func (f *DataFile) replaceLocked(src string) error {
	if err := f.db.Close(); err != nil {
		return fmt.Errorf("closing data file: %w", err)
	}
	if err := removeDatabase(f.path); err != nil {
		return err
	}
	copyErr := copyFile(src, f.path)
	if err := f.open(); err != nil {
		return fmt.Errorf("reopening data file: %w", err)
	}
	if copyErr != nil {
		return fmt.Errorf("copying %s: %w", src, copyErr)
	}
	return nil
}

func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
