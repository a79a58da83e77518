package asyncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/common/xerrors"
	"github.com/scmcore/corestore/ids"
)

// DefaultMaxRetries is the retry count at which Retry marks a request
// Failed instead of recycling it back to New.
const DefaultMaxRetries = 3

// Store is the durable queue: one SQL table for request rows, backed
// by a blobstore for the (potentially large) params and result
// payloads.
type Store struct {
	db        *sql.DB
	blobstore *blobstore.Store
}

// Open opens (and migrates) a queue store at dsn, backed by blobs.
func Open(ctx context.Context, dsn string, blobs *blobstore.Store) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("asyncqueue: open: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, blobstore: blobs}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS async_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_type TEXT NOT NULL,
			repo_id INTEGER NOT NULL,
			state TEXT NOT NULL,
			params_blobstore_key TEXT NOT NULL,
			result_blobstore_key TEXT,
			claimed_by TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			in_progress_timestamp INTEGER,
			created_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("asyncqueue: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Enqueue stores params content-addressed in the blobstore, inserts a
// New row, and returns a token identifying it.
func (s *Store) Enqueue(ctx context.Context, requestType string, repoID int64, params []byte, now time.Time) (Token, error) {
	key := ids.New(ids.DomainAsyncRequestParams, params).BlobstoreKey()
	if _, err := s.blobstore.Put(ctx, key, params, blobstore.Overwrite); err != nil {
		return Token{}, fmt.Errorf("asyncqueue: store params: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO async_requests (request_type, repo_id, state, params_blobstore_key, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		requestType, repoID, StateNew, key, now.Unix())
	if err != nil {
		return Token{}, fmt.Errorf("asyncqueue: enqueue: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return Token{}, fmt.Errorf("asyncqueue: enqueue: %w", err)
	}
	return Token{RowID: rowID, RequestType: requestType}, nil
}

// Dequeue atomically claims one New row and returns its loaded
// params, preferring rows whose repo_id is in servedRepos. Returns
// (nil, nil) when the queue has nothing claimable.
func (s *Store) Dequeue(ctx context.Context, claimedBy string, servedRepos []int64, now time.Time) (*Claim, error) {
	candidates, err := s.candidateIDs(ctx, servedRepos)
	if err != nil {
		return nil, err
	}
	for _, id := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE async_requests
			SET state = ?, claimed_by = ?, in_progress_timestamp = ?
			WHERE id = ? AND state = ?`,
			StateInProgress, claimedBy, now.Unix(), id, StateNew)
		if err != nil {
			return nil, fmt.Errorf("asyncqueue: claim %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("asyncqueue: claim %d: %w", id, err)
		}
		if n == 0 {
			continue // lost the race to another dequeuer
		}
		var requestType, paramsKey string
		var repoID int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT request_type, repo_id, params_blobstore_key FROM async_requests WHERE id = ?`, id,
		).Scan(&requestType, &repoID, &paramsKey); err != nil {
			return nil, fmt.Errorf("asyncqueue: load claimed row %d: %w", id, err)
		}
		_, params, err := s.blobstore.Get(ctx, paramsKey)
		if err != nil {
			return nil, fmt.Errorf("asyncqueue: load params for %d: %w", id, err)
		}
		return &Claim{RequestID: id, RequestType: requestType, RepoID: repoID, Params: params}, nil
	}
	return nil, nil
}

// candidateIDs lists New row ids, repos in servedRepos first
// (dequeue's stated preference), each group ordered oldest-first.
func (s *Store) candidateIDs(ctx context.Context, servedRepos []int64) ([]int64, error) {
	served := make(map[int64]bool, len(servedRepos))
	for _, r := range servedRepos {
		served[r] = true
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_id FROM async_requests WHERE state = ? ORDER BY id ASC`, StateNew)
	if err != nil {
		return nil, fmt.Errorf("asyncqueue: list candidates: %w", err)
	}
	defer rows.Close()

	var preferred, rest []int64
	for rows.Next() {
		var id, repoID int64
		if err := rows.Scan(&id, &repoID); err != nil {
			return nil, fmt.Errorf("asyncqueue: scan candidate: %w", err)
		}
		if served[repoID] {
			preferred = append(preferred, id)
		} else {
			rest = append(rest, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return append(preferred, rest...), nil
}

// Complete stores result content-addressed and transitions the row
// InProgress -> Ready.
func (s *Store) Complete(ctx context.Context, reqID int64, result []byte) error {
	key := ids.New(ids.DomainAsyncRequestResult, result).BlobstoreKey()
	if _, err := s.blobstore.Put(ctx, key, result, blobstore.Overwrite); err != nil {
		return fmt.Errorf("asyncqueue: store result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_requests SET state = ?, result_blobstore_key = ?
		WHERE id = ? AND state = ?`,
		StateReady, key, reqID, StateInProgress)
	if err != nil {
		return fmt.Errorf("asyncqueue: complete %d: %w", reqID, err)
	}
	return expectOneRow(res, reqID, "complete")
}

// Retry increments the retry count; while the new count is below
// maxRetries the request goes back to New, otherwise it becomes Failed.
func (s *Store) Retry(ctx context.Context, reqID int64, maxRetries int) error {
	var retryCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT retry_count FROM async_requests WHERE id = ?`, reqID).Scan(&retryCount); err != nil {
		return fmt.Errorf("asyncqueue: retry %d: %w", reqID, err)
	}
	next := StateNew
	if retryCount+1 >= maxRetries {
		next = StateFailed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_requests SET state = ?, retry_count = retry_count + 1, claimed_by = NULL, in_progress_timestamp = NULL
		WHERE id = ?`, next, reqID)
	if err != nil {
		return fmt.Errorf("asyncqueue: retry %d: %w", reqID, err)
	}
	return expectOneRow(res, reqID, "retry")
}

// FindAbandoned returns InProgress row ids whose heartbeat is older
// than olderThan.
func (s *Store) FindAbandoned(ctx context.Context, olderThan time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM async_requests WHERE state = ? AND in_progress_timestamp < ?`,
		StateInProgress, olderThan.Unix())
	if err != nil {
		return nil, fmt.Errorf("asyncqueue: find abandoned: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkAbandonedAsNew reclaims reqID back to New, but only if its
// heartbeat still matches lastSeen — a compare-and-swap guard against
// racing with a worker that is, in fact, still alive and just slow to
// be observed.
func (s *Store) MarkAbandonedAsNew(ctx context.Context, reqID int64, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_requests SET state = ?, claimed_by = NULL, in_progress_timestamp = NULL
		WHERE id = ? AND state = ? AND in_progress_timestamp = ?`,
		StateNew, reqID, StateInProgress, lastSeen.Unix())
	if err != nil {
		return fmt.Errorf("asyncqueue: mark abandoned %d: %w", reqID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return xerrors.Conflict("asyncqueue", fmt.Errorf("request %d was not in_progress with the expected heartbeat", reqID))
	}
	return nil
}

// UpdateInProgressTimestamp is the worker heartbeat.
func (s *Store) UpdateInProgressTimestamp(ctx context.Context, reqID int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_requests SET in_progress_timestamp = ? WHERE id = ? AND state = ?`,
		now.Unix(), reqID, StateInProgress)
	if err != nil {
		return fmt.Errorf("asyncqueue: heartbeat %d: %w", reqID, err)
	}
	return expectOneRow(res, reqID, "heartbeat")
}

func expectOneRow(res sql.Result, reqID int64, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return xerrors.Conflict("asyncqueue", fmt.Errorf("%s: request %d was not in the expected state", op, reqID))
	}
	return nil
}
