package mutationstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scmcore/corestore/internal/xmetrics"

	_ "modernc.org/sqlite"
)

// Store is the append-only mutation log plus its secondary indices.
// Records are immutable once written (§3's lifecycle summary:
// "mutation-store rows are append-only"); Add writes each new edge at
// once and keeps it in pending until Flush runs the auto-extension pass.
type Store struct {
	db      *sql.DB
	pending []Entry
}

// Open opens (and migrates) a mutation log at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mutationstore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mutation_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			succ TEXT NOT NULL,
			raw BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutation_records_succ ON mutation_records(succ)`,
		`CREATE TABLE IF NOT EXISTS mutation_pred_index (
			record_id INTEGER NOT NULL,
			pred TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutation_pred ON mutation_pred_index(pred)`,
		`CREATE TABLE IF NOT EXISTS mutation_split_index (
			record_id INTEGER NOT NULL,
			split TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutation_split ON mutation_split_index(split)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mutationstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add appends entry to the durable log immediately and queues it for
// the auto-extension scan the next time Flush runs, mirroring
// add()/add_raw() in the original: every add is durable, but the
// transitive-closure heuristic only fires in batches at Flush time.
func (s *Store) Add(ctx context.Context, entry Entry) error {
	if err := s.addRaw(ctx, entry); err != nil {
		return err
	}
	s.pending = append(s.pending, entry)
	return nil
}

func (s *Store) addRaw(ctx context.Context, entry Entry) error {
	raw, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("mutationstore: serialize: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mutation_records (succ, raw) VALUES (?, ?)`,
		entry.Succ.Hex(), raw)
	if err != nil {
		return fmt.Errorf("mutationstore: insert: %w", err)
	}
	recordID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, p := range entry.Preds {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO mutation_pred_index (record_id, pred) VALUES (?, ?)`, recordID, p.Hex()); err != nil {
			return err
		}
	}
	for _, sp := range entry.Split {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO mutation_split_index (record_id, split) VALUES (?, ?)`, recordID, sp.Hex()); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entry recording succ's mutation, if any.
func (s *Store) Get(ctx context.Context, succ Node) (*Entry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT raw FROM mutation_records WHERE succ = ? LIMIT 1`, succ.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mutationstore: get: %w", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetPredecessors returns the predecessor set recorded for succ (the
// node's own entry if it is itself a successor, or the entry of the
// split group it belongs to).
func (s *Store) GetPredecessors(ctx context.Context, node Node) ([]Node, error) {
	if e, err := s.Get(ctx, node); err != nil {
		return nil, err
	} else if e != nil {
		return e.Preds, nil
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT r.raw FROM mutation_records r
		JOIN mutation_split_index sp ON sp.record_id = r.id
		WHERE sp.split = ? LIMIT 1`, node.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mutationstore: get_predecessors: %w", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	return entry.Preds, nil
}

// GetSuccessorsSets returns, for every entry whose Preds include node,
// the full successor set (split fragments plus the final Succ).
func (s *Store) GetSuccessorsSets(ctx context.Context, node Node) ([][]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.raw FROM mutation_records r
		JOIN mutation_pred_index p ON p.record_id = r.id
		WHERE p.pred = ?`, node.Hex())
	if err != nil {
		return nil, fmt.Errorf("mutationstore: get_successors_sets: %w", err)
	}
	defer rows.Close()

	var out [][]Node
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		set := append(append([]Node{}, entry.Split...), entry.Succ)
		out = append(out, set)
	}
	return out, rows.Err()
}

// GetSplitHead returns the entry describing node as one fragment of a
// split, if node is such a fragment.
func (s *Store) GetSplitHead(ctx context.Context, node Node) (*Entry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT r.raw FROM mutation_records r
		JOIN mutation_split_index sp ON sp.record_id = r.id
		WHERE sp.split = ? LIMIT 1`, node.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mutationstore: get_split_head: %w", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Flush writes the automatic "-copy" edges per §4.D's auto-extension
// rule, then clears pending. Before flushing pending edges X->Y, the
// store looks for an existing chain P ->...-> X where P->Q is also
// pending, and synthesizes Q->Y with op suffix "-copy" so a client
// never has to reason about transitive mutation chains itself.
func (s *Store) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	predOf := make(map[Node]Node, len(s.pending)) // pred -> succ, for pending entries
	for _, entry := range s.pending {
		if len(entry.Preds) == 0 {
			continue
		}
		predOf[entry.Preds[0]] = entry.Succ
	}

	var newEntries []Entry
	for _, entry := range s.pending {
		if len(entry.Preds) == 0 {
			continue
		}
		x := entry.Preds[0]
		y := entry.Succ

		ancestors, err := s.ancestorsAmong(ctx, x, predOf)
		if err != nil {
			xmetrics.MutationFlushTotal.WithLabelValues("error").Inc()
			return err
		}
		for _, p := range ancestors {
			if p == x || p == y {
				continue
			}
			q, ok := predOf[p]
			if !ok || q == x || q == y || q == p {
				continue
			}
			copyEntry, err := s.Get(ctx, x)
			if err != nil {
				xmetrics.MutationFlushTotal.WithLabelValues("error").Inc()
				return err
			}
			if copyEntry == nil {
				continue
			}
			op := copyEntry.Op
			if len(op) < 5 || op[len(op)-5:] != "-copy" {
				op = op + "-copy"
			}
			newEntries = append(newEntries, Entry{
				Succ:   y,
				Preds:  []Node{x, q},
				Split:  copyEntry.Split,
				Op:     op,
				User:   copyEntry.User,
				Time:   copyEntry.Time,
				Tz:     copyEntry.Tz,
				Extras: copyEntry.Extras,
				Origin: copyEntry.Origin,
			})
		}
	}

	for _, entry := range newEntries {
		if err := s.addRaw(ctx, entry); err != nil {
			xmetrics.MutationFlushTotal.WithLabelValues("error").Inc()
			return err
		}
	}
	s.pending = nil
	xmetrics.MutationFlushTotal.WithLabelValues("ok").Inc()
	return nil
}

// ancestorsAmong walks pred chains backward from x through predOf's
// pending edges (treated as successor pointers in reverse: a pending
// edge P->Q means P is an ancestor of Q in the log being built) and
// returns whichever of predOf's own pred-keys are ancestors of x in
// the durable log. This mirrors the original's "x_ancestors & pred_set"
// restricted to a bounded local walk instead of a full lazy DAG.
func (s *Store) ancestorsAmong(ctx context.Context, x Node, predOf map[Node]Node) ([]Node, error) {
	var out []Node
	seen := map[Node]bool{}
	frontier := []Node{x}
	for len(frontier) > 0 {
		var next []Node
		for _, n := range frontier {
			preds, err := s.GetPredecessors(ctx, n)
			if err != nil {
				return nil, err
			}
			for _, p := range preds {
				if seen[p] {
					continue
				}
				seen[p] = true
				if _, isPending := predOf[p]; isPending {
					out = append(out, p)
				}
				next = append(next, p)
			}
		}
		frontier = next
	}
	return out, nil
}
