// Package store is the leasing layer over PostgreSQL. All cross-worker
// coordination flows through it: tasks and proxies are claimed with
// single-statement skip-locked leases, so no two workers ever hold the same
// row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// Options bound the connection pool and parameterize the recovery sweeps.
type Options struct {
	DSN              string
	PoolMinSize      int
	PoolMaxSize      int
	StuckTaskTimeout time.Duration
	MaxRetryAttempts int
	Logger           *slog.Logger
}

// Store wraps the shared Postgres pool. It is safe for use from the worker
// main loop and the coordinator concurrently; every operation is a single
// statement or a single transaction.
type Store struct {
	db               *sql.DB
	stuckTimeout     time.Duration
	maxRetryAttempts int
	logger           *slog.Logger
}

// Open creates the pool and verifies connectivity, retrying transient
// network failures with the same backoff policy the query path uses.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(opts.PoolMaxSize)
	db.SetMaxIdleConns(opts.PoolMinSize)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:               db,
		stuckTimeout:     opts.StuckTaskTimeout,
		maxRetryAttempts: opts.MaxRetryAttempts,
		logger:           logger,
	}

	if err := s.withRetry(ctx, "ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB, stuckTimeout time.Duration, maxRetryAttempts int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, stuckTimeout: stuckTimeout, maxRetryAttempts: maxRetryAttempts, logger: logger}
}

// Close shuts the pool down. In-flight heartbeats tolerate this.
func (s *Store) Close() error {
	return s.db.Close()
}
