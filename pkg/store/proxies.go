package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LeaseFreeProxy atomically claims a random FREE proxy for workerID. Random
// selection spreads load across the pool; skip-locked keeps concurrent
// callers off the same row. Returns ok=false when no proxy is free.
func (s *Store) LeaseFreeProxy(ctx context.Context, workerID string) (proxyID int64, address string, ok bool, err error) {
	const q = `
		UPDATE proxies
		SET status = 'IN_USE',
		    worker_id = $1,
		    taken_at = NOW()
		WHERE id = (
			SELECT id FROM proxies
			WHERE status = 'FREE'
			ORDER BY RANDOM()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, address`

	err = s.withRetry(ctx, "lease_free_proxy", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, q, workerID).Scan(&proxyID, &address)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("lease free proxy: %w", err)
	}
	return proxyID, address, true, nil
}

// BlockProxy marks a proxy BLOCKED and clears its holder. BLOCKED is
// terminal: nothing in the core ever frees a blocked proxy.
func (s *Store) BlockProxy(ctx context.Context, proxyID int64, reason string) error {
	const q = `
		UPDATE proxies
		SET status = 'BLOCKED',
		    worker_id = NULL,
		    taken_at = NULL,
		    blocked_at = NOW(),
		    blocked_reason = $2
		WHERE id = $1`

	err := s.withRetry(ctx, "block_proxy", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, proxyID, reason)
		return err
	})
	if err != nil {
		return fmt.Errorf("block proxy %d: %w", proxyID, err)
	}

	s.logger.Warn("proxy blocked", "proxy_id", proxyID, "reason", reason)
	return nil
}

// ReleaseProxy returns an IN_USE proxy to FREE. Used on clean task-end paths
// and during shutdown; a released proxy was healthy, only the holder went
// away.
func (s *Store) ReleaseProxy(ctx context.Context, proxyID int64) error {
	const q = `
		UPDATE proxies
		SET status = 'FREE',
		    worker_id = NULL,
		    taken_at = NULL
		WHERE id = $1`

	err := s.withRetry(ctx, "release_proxy", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, proxyID)
		return err
	})
	if err != nil {
		return fmt.Errorf("release proxy %d: %w", proxyID, err)
	}
	return nil
}
