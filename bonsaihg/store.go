package bonsaihg

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/scmcore/corestore/ids"
	_ "modernc.org/sqlite"
)

// Store is the bidirectional mapping contract of §4.C.
type Store interface {
	// Add inserts entry, returning whether the insertion actually
	// occurred (false means an identical row already existed).
	Add(ctx context.Context, entry Entry) (bool, error)
	// GetByBonsai looks up a batch of bonsai ids. Missing ids are
	// simply absent from the result.
	GetByBonsai(ctx context.Context, opts QueryOptions, ids []BonsaiID) ([]Entry, error)
	// GetByHg looks up a batch of hg ids.
	GetByHg(ctx context.Context, opts QueryOptions, ids []HgID) ([]Entry, error)
	// GetHgInRange scans [low, high] sorted by hg id, per §4.C.
	GetHgInRange(ctx context.Context, repoID int64, low, high HgID, limit int) ([]HgID, error)
}

// QueryOptions tags a lookup batch with the consistent-read knobs from
// the Design Notes: a request scoped to a known expected count may opt
// into a replica-catch-up wait, bypassing master fallback.
type QueryOptions struct {
	Consistent    bool
	ExpectedCount int
	Deadline      time.Duration
}

// SQLStore is the SQL-backed implementation: replica queried first,
// falling through to master for anything still missing, per §4.C "Read
// path". Like blobstore.Shard, replica and master are modeled as
// distinct handles even though this reference deployment points both
// at the same SQLite database (no real replica topology available
// here).
type SQLStore struct {
	write, replica, master *sql.DB
}

// OpenSQLStore opens (and migrates) a mapping store at dsn.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: open write handle: %w", err)
	}
	replica, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: open replica handle: %w", err)
	}
	master, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: open master handle: %w", err)
	}
	s := &SQLStore{write: write, replica: replica, master: master}
	if _, err := write.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bonsai_hg_mapping (
			repo_id INTEGER NOT NULL,
			bonsai TEXT NOT NULL,
			hg TEXT NOT NULL,
			PRIMARY KEY (repo_id, bonsai),
			UNIQUE (repo_id, hg)
		)`); err != nil {
		return nil, fmt.Errorf("bonsaihg: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.write, s.replica, s.master} {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Add inserts entry, detecting conflicts against a concurrently written
// row, per §4.C.
func (s *SQLStore) Add(ctx context.Context, entry Entry) (bool, error) {
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO bonsai_hg_mapping (repo_id, bonsai, hg) VALUES (?, ?, ?)
		 ON CONFLICT(repo_id, bonsai) DO NOTHING`,
		entry.RepoID, entry.Bonsai.Hex(), entry.Hg.Hex())
	if err != nil {
		return false, fmt.Errorf("bonsaihg: add: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	// Someone else inserted first: the existing row MUST equal what we
	// attempted, or this is a conflict.
	var hgHex string
	err = s.write.QueryRowContext(ctx,
		`SELECT hg FROM bonsai_hg_mapping WHERE repo_id = ? AND bonsai = ?`,
		entry.RepoID, entry.Bonsai.Hex()).Scan(&hgHex)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &RaceConditionWithDeleteError{Attempted: entry}
	}
	if err != nil {
		return false, fmt.Errorf("bonsaihg: add: reading existing row: %w", err)
	}
	if hgHex == entry.Hg.Hex() {
		return false, nil
	}
	existingHgBytes, derr := hex.DecodeString(hgHex)
	if derr != nil {
		return false, fmt.Errorf("bonsaihg: decoding stored hg id: %w", derr)
	}
	existingHg, herr := HgIDFromBytes(existingHgBytes)
	if herr != nil {
		return false, herr
	}
	return false, &ConflictingEntriesError{
		Existing:  Entry{RepoID: entry.RepoID, Bonsai: entry.Bonsai, Hg: existingHg},
		Attempted: entry,
	}
}

// GetByBonsai implements Store.
func (s *SQLStore) GetByBonsai(ctx context.Context, opts QueryOptions, idsBatch []BonsaiID) ([]Entry, error) {
	keys := make([]string, len(idsBatch))
	for i, id := range idsBatch {
		keys[i] = id.Hex()
	}
	rows, err := s.queryBatch(ctx, opts, "bonsai", keys)
	return rows, err
}

// GetByHg implements Store.
func (s *SQLStore) GetByHg(ctx context.Context, opts QueryOptions, idsBatch []HgID) ([]Entry, error) {
	keys := make([]string, len(idsBatch))
	for i, id := range idsBatch {
		keys[i] = id.Hex()
	}
	return s.queryBatch(ctx, opts, "hg", keys)
}

func (s *SQLStore) queryBatch(ctx context.Context, opts QueryOptions, column string, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	found, err := s.queryByColumn(ctx, s.replica, column, keys)
	if err != nil {
		return nil, err
	}

	if opts.Consistent && len(found) < opts.ExpectedCount {
		// Consistent-read mode bypasses master fallback: it waits for
		// the replica itself to catch up instead, per the Design
		// Notes "Consistent reads". This reference implementation
		// polls the replica a bounded number of times rather than
		// blocking on a real replication-lag signal.
		found, err = s.waitForReplicaCatchUp(ctx, column, keys, opts)
		if err != nil {
			return nil, err
		}
		return found, nil
	}

	if len(found) < len(keys) {
		missing := remainingKeys(keys, found, column)
		fromMaster, err := s.queryByColumn(ctx, s.master, column, missing)
		if err != nil {
			return nil, err
		}
		found = append(found, fromMaster...)
	}
	return found, nil
}

func (s *SQLStore) waitForReplicaCatchUp(ctx context.Context, column string, keys []string, opts QueryOptions) ([]Entry, error) {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	cutoff := time.Now().Add(deadline)
	var last []Entry
	for {
		found, err := s.queryByColumn(ctx, s.replica, column, keys)
		if err != nil {
			return nil, err
		}
		last = found
		if returnEarlyIf(found, opts.ExpectedCount) || time.Now().After(cutoff) {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// returnEarlyIf is the caller-supplied predicate from the Design Notes:
// short-circuit once the expected row count has been reached.
func returnEarlyIf(found []Entry, expected int) bool {
	return len(found) >= expected
}

func remainingKeys(all []string, found []Entry, column string) []string {
	seen := map[string]bool{}
	for _, e := range found {
		if column == "bonsai" {
			seen[e.Bonsai.Hex()] = true
		} else {
			seen[e.Hg.Hex()] = true
		}
	}
	var out []string
	for _, k := range all {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

func (s *SQLStore) queryByColumn(ctx context.Context, db *sql.DB, column string, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := make([]interface{}, len(keys))
	query := fmt.Sprintf(`SELECT repo_id, bonsai, hg FROM bonsai_hg_mapping WHERE %s IN (`, column)
	for i, k := range keys {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = k
	}
	query += ")"

	rows, err := db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: query by %s: %w", column, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var repoID int64
		var bonsaiHex, hgHex string
		if err := rows.Scan(&repoID, &bonsaiHex, &hgHex); err != nil {
			return nil, fmt.Errorf("bonsaihg: scan row: %w", err)
		}
		bonsaiBytes, err := hex.DecodeString(bonsaiHex)
		if err != nil {
			return nil, fmt.Errorf("bonsaihg: decoding stored bonsai id: %w", err)
		}
		bonsaiID, err := ids.FromBytes(ids.DomainChangeset, bonsaiBytes)
		if err != nil {
			return nil, err
		}
		hgBytes, err := hex.DecodeString(hgHex)
		if err != nil {
			return nil, fmt.Errorf("bonsaihg: decoding stored hg id: %w", err)
		}
		hg, err := HgIDFromBytes(hgBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{
			RepoID: repoID,
			Bonsai: BonsaiID{bonsaiID},
			Hg:     hg,
		})
	}
	return out, rows.Err()
}

// GetHgInRange scans [low, high] sorted by hg id, returning up to
// limit+1 rows, per §4.C.
func (s *SQLStore) GetHgInRange(ctx context.Context, repoID int64, low, high HgID, limit int) ([]HgID, error) {
	rows, err := s.replica.QueryContext(ctx,
		`SELECT hg FROM bonsai_hg_mapping WHERE repo_id = ? AND hg >= ? AND hg <= ? ORDER BY hg ASC LIMIT ?`,
		repoID, low.Hex(), high.Hex(), limit+1)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: get_hg_in_range: %w", err)
	}
	defer rows.Close()

	var out []HgID
	for rows.Next() {
		var hgHex string
		if err := rows.Scan(&hgHex); err != nil {
			return nil, err
		}
		hgBytes, err := hex.DecodeString(hgHex)
		if err != nil {
			return nil, fmt.Errorf("bonsaihg: decoding stored hg id: %w", err)
		}
		h, err := HgIDFromBytes(hgBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
