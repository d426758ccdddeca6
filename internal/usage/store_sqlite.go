package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLite's default bindable-parameter limit is 999. With 9 columns per
// attempt row, 111 rows per INSERT stays under it.
const (
	columnsPerAttempt  = 9
	maxAttemptsPerStmt = 999 / columnsPerAttempt
)

// SQLiteStore implements Store for a local SQLite database.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore opens (creating if needed) the attempt log database.
// A retention of 0 disables cleanup.
func NewSQLiteStore(path string, retentionDays int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// WAL allows concurrent reads while the flush goroutine writes.
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			backend TEXT NOT NULL,
			key_mask TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create attempts table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_attempts_backend ON attempts(backend)",
		"CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go store.cleanupLoop()
	}

	return store, nil
}

// WriteBatch inserts attempts in chunks that respect SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, attempts []*Attempt) error {
	if len(attempts) == 0 {
		return nil
	}

	for i := 0; i < len(attempts); i += maxAttemptsPerStmt {
		end := i + maxAttemptsPerStmt
		if end > len(attempts) {
			end = len(attempts)
		}
		if err := s.writeChunk(ctx, attempts[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) writeChunk(ctx context.Context, chunk []*Attempt) error {
	placeholders := make([]string, len(chunk))
	values := make([]interface{}, 0, len(chunk)*columnsPerAttempt)
	for i, a := range chunk {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		values = append(values,
			a.ID, a.RequestID, a.Timestamp.UTC(), a.Backend,
			a.KeyMask, a.Model, a.Mode, a.Outcome, a.LatencyMS,
		)
	}

	query := "INSERT OR IGNORE INTO attempts (id, request_id, timestamp, backend, key_mask, model, mode, outcome, latency_ms) VALUES " +
		strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert attempt batch: %w", err)
	}
	return nil
}

// CountByOutcome returns the attempt count per outcome since the given time.
func (s *SQLiteStore) CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT outcome, COUNT(*) FROM attempts WHERE timestamp >= ? GROUP BY outcome", since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		out[outcome] = count
	}
	return out, rows.Err()
}

// Close stops the cleanup goroutine and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
			res, err := s.db.Exec("DELETE FROM attempts WHERE timestamp < ?", cutoff)
			if err != nil {
				slog.Warn("attempt log cleanup failed", "error", err)
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				slog.Info("attempt log cleanup", "deleted", n, "cutoff", cutoff)
			}
		}
	}
}
