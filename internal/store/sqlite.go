package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/FeelPulse/repostalker/internal/ratelimit"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCounterStore persists rate limit counters to a SQLite database.
// It satisfies ratelimit.CounterStore.
type SQLiteCounterStore struct {
	db *sql.DB
}

var _ ratelimit.CounterStore = (*SQLiteCounterStore)(nil)

// NewSQLiteCounterStore opens (or creates) the counter database at dbPath
func NewSQLiteCounterStore(dbPath string) (*SQLiteCounterStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every admission is a serialized transaction
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_counters (
			key TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_rate_counters_expires ON rate_counters(expires_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteCounterStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteCounterStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Admit implements ratelimit.CounterStore in a single transaction
func (s *SQLiteCounterStore) Admit(ctx context.Context, counters []ratelimit.Counter, now time.Time) (int, error) {
	nowMs := now.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to begin admission: %w", err)
	}
	defer tx.Rollback()

	for i, c := range counters {
		count, err := liveCount(ctx, tx, c.Key, nowMs)
		if err != nil {
			return -1, err
		}
		if count+1 > c.Limit {
			return i, nil
		}
	}

	for _, c := range counters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_counters (key, count, expires_at)
			VALUES (?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				count = CASE WHEN rate_counters.expires_at <= ? THEN 1 ELSE rate_counters.count + 1 END,
				expires_at = excluded.expires_at
		`, c.Key, now.Add(c.TTL).UnixMilli(), nowMs)
		if err != nil {
			return -1, fmt.Errorf("failed to increment %s: %w", c.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_counters WHERE expires_at <= ?`, nowMs); err != nil {
		return -1, fmt.Errorf("failed to purge expired counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return -1, fmt.Errorf("failed to commit admission: %w", err)
	}
	return -1, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func liveCount(ctx context.Context, q queryer, key string, nowMs int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT count FROM rate_counters WHERE key = ? AND expires_at > ?
	`, key, nowMs).Scan(&count)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return count, nil
}

// Counts implements ratelimit.CounterStore
func (s *SQLiteCounterStore) Counts(ctx context.Context, keys []string, now time.Time) ([]int, error) {
	nowMs := now.UnixMilli()
	counts := make([]int, len(keys))
	for i, k := range keys {
		c, err := liveCount(ctx, s.db, k, nowMs)
		if err != nil {
			return nil, err
		}
		counts[i] = c
	}
	return counts, nil
}

// CleanExpired removes counters that expired at now
func (s *SQLiteCounterStore) CleanExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired counters: %w", err)
	}
	return result.RowsAffected()
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ratelimit.db"
	}
	return filepath.Join(home, ".repostalker", "ratelimit.db")
}
