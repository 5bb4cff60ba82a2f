// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists jobs in SQLite. It is the single source of truth
// for the queue: admission inserts, the worker claims and finishes, the API
// reads and mutates, and startup recovery runs here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ManuGH/ripflow/internal/metrics"
)

var (
	// ErrNotFound is returned when the job id does not exist.
	ErrNotFound = errors.New("store: job not found")
	// ErrJobRunning is returned for mutations that are illegal while a job runs.
	ErrJobRunning = errors.New("store: job is running")
	// ErrNotRetryable is returned when a retry is requested for a job that is
	// not failed, carries a non-retryable error kind, or has spent its budget.
	ErrNotRetryable = errors.New("store: job not retryable")
)

// Progress commit gate. Updates below the delta are dropped unless the job
// is finishing or the row has gone stale.
const (
	progressMinDelta = 5.0
	progressMaxAge   = 10 * time.Second
)

// Config defines the SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the pool settings used by the daemon. Writes are
// serialized by SQLite itself; WAL keeps readers concurrent.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Store wraps the jobs table.
type Store struct {
	db *sql.DB
}

// Open initializes the connection pool with mandatory PRAGMAs and creates
// the schema if missing. The PRAGMAs ride the DSN so they apply to every
// connection in the pool.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	title           TEXT    NOT NULL,
	source_hint     TEXT    NOT NULL,
	source_resolved TEXT    NOT NULL DEFAULT '',
	status          TEXT    NOT NULL DEFAULT 'pending',
	progress        REAL    NOT NULL DEFAULT 0,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	error_kind      TEXT    NOT NULL DEFAULT '',
	error           TEXT    NOT NULL DEFAULT '',
	output_path     TEXT    NOT NULL DEFAULT '',
	classification  TEXT    NOT NULL DEFAULT '',
	family          TEXT    NOT NULL DEFAULT '',
	arm_job_id      TEXT    NOT NULL DEFAULT '',
	total_tracks    INTEGER NOT NULL DEFAULT 0,
	main_feature    TEXT    NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	started_at      INTEGER,
	completed_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate failed: %w", err)
	}
	return nil
}

// refreshQueueDepth re-reads the pending count into the gauge. Called after
// every mutation that can change it.
func (s *Store) refreshQueueDepth(ctx context.Context) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
