package asyncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/scmcore/corestore/common/xerrors"
	"github.com/scmcore/corestore/internal/config"
)

// Poll waits for token's request to become Ready, using
// backoff.ExponentialBackOff (cfg) to drive a capped-exponential,
// jittered wait between checks (§4.G: 1s initial, doubling, 60s cap).
// It distinguishes three outcomes: PollReady with the loaded result,
// PollTimedOut when cfg's MaxElapsedTime passes with no result, and a
// Fatal error when the row reached Ready with no result key (an
// invariant violation, never retried).
func (s *Store) Poll(ctx context.Context, token Token, cfg config.Backoff) (*PollResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	for {
		result, err := s.checkReady(ctx, token.RowID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return &PollResult{Outcome: PollReady, Result: result}, nil
		}

		d := b.NextBackOff()
		if d == backoff.Stop {
			return &PollResult{Outcome: PollTimedOut}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
}

// checkReady loads the row's state; returns (nil, nil) to keep
// polling, (result, nil) when ready, or a Fatal error.
func (s *Store) checkReady(ctx context.Context, rowID int64) ([]byte, error) {
	var state State
	var resultKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT state, result_blobstore_key FROM async_requests WHERE id = ?`, rowID,
	).Scan(&state, &resultKey)
	if err != nil {
		return nil, fmt.Errorf("asyncqueue: poll %d: %w", rowID, err)
	}

	switch state {
	case StateReady, StatePolled:
		if !resultKey.Valid {
			return nil, xerrors.Fatal("asyncqueue", fmt.Errorf("request %d is %s with no result key", rowID, state))
		}
		_, result, err := s.blobstore.Get(ctx, resultKey.String)
		if err != nil {
			return nil, fmt.Errorf("asyncqueue: load result for %d: %w", rowID, err)
		}
		if state == StateReady {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE async_requests SET state = ? WHERE id = ? AND state = ?`,
				StatePolled, rowID, StateReady,
			); err != nil {
				return nil, fmt.Errorf("asyncqueue: mark polled %d: %w", rowID, err)
			}
		}
		return result, nil
	case StateFailed:
		return nil, xerrors.Fatal("asyncqueue", fmt.Errorf("request %d failed permanently", rowID))
	case StateNew, StateInProgress:
		return nil, nil
	default:
		return nil, xerrors.Fatal("asyncqueue", fmt.Errorf("request %d has unknown state %q", rowID, state))
	}
}
