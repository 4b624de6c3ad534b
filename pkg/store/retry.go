package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"github.com/lib/pq"
)

// Backoff policy for transient database failures: 2s, 4s, give up after the
// third attempt. Logical errors are never retried.
const (
	retryAttempts       = 3
	retryInitialBackoff = 2 * time.Second
)

func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retryInitialBackoff
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		s.logger.Warn("transient database error, retrying",
			"op", op, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// isTransient reports whether an error is a connection-level failure worth
// retrying. Everything else (constraint violations, syntax, scan errors) is
// logical and propagates immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		case "57": // operator intervention: shutdown, crash
			return true
		}
	}
	return false
}
