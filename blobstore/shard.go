package blobstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Shard wraps the three connection handles named in §4.A: a write
// handle, a read-replica handle, and a read-master handle used when the
// replica misses. The teacher's ethdb backends keep a single handle per
// database; we keep three to model the real replica-fallback read path,
// even though in this reference deployment all three point at the same
// SQLite file (SQLite has no replica topology of its own).
type Shard struct {
	Index   int
	write   *sql.DB
	replica *sql.DB
	master  *sql.DB
}

// OpenShard opens a shard backed by dsn (a modernc.org/sqlite DSN, e.g.
// "file:shard0.db?cache=shared" or "file::memory:?cache=shared").
func OpenShard(ctx context.Context, index int, dsn string) (*Shard, error) {
	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open shard %d write handle: %w", index, err)
	}
	replica, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open shard %d replica handle: %w", index, err)
	}
	master, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open shard %d master handle: %w", index, err)
	}
	s := &Shard{Index: index, write: write, replica: replica, master: master}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shard) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS data_rows (
			key TEXT PRIMARY KEY,
			ctime INTEGER NOT NULL,
			chunking_method INTEGER NOT NULL,
			inline_value BLOB,
			chunk_key_prefix TEXT,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			generation INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_key TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunk_order (
			chunk_key_prefix TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_key TEXT NOT NULL,
			PRIMARY KEY (chunk_key_prefix, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS chunk_generations (
			chunk_key TEXT PRIMARY KEY,
			generation INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.write.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("blobstore: migrate shard %d: %w", s.Index, err)
		}
	}
	return nil
}

// Close releases all three handles.
func (s *Shard) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.write, s.replica, s.master} {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
