package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/scmcore/corestore/internal/config"
)

// retryableSQLError reports whether err is one of the known-retryable
// conditions named in §4.A: deadlock / admission-control equivalents.
// The original deployment targets MySQL error codes 1213 (deadlock)
// and 1914-1916 (admission control); this SQLite-backed implementation
// has no server-side admission control, so the analogue we retry is
// SQLITE_BUSY ("database is locked"), the single transient condition a
// local SQLite shard can raise under write contention.
func retryableSQLError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs op, retrying with capped-exponential backoff and
// jitter when it returns a retryable SQL error, per §7's "Retryable
// transient" kind. op runs at most maxAttempts times in all. Unknown
// errors propagate immediately.
func withRetry(ctx context.Context, cfg config.Backoff, op func() error) error {
	const maxAttempts = 2
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime
	bctx := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryableSQLError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bctx)
}

// errNoRows reports whether err is sql.ErrNoRows, unwrapping through
// any context this package adds.
func errNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
