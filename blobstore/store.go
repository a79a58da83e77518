package blobstore

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/scmcore/corestore/common"
	"github.com/scmcore/corestore/internal/config"
	"github.com/scmcore/corestore/internal/xlog"
	"github.com/scmcore/corestore/internal/xmetrics"
)

// Store routes keys across N SQL shards by a deterministic hash modulo
// shard count, per §4.A "Sharding".
type Store struct {
	shards      []*Shard
	cfg         config.Blobstore
	retryConfig config.Backoff
	log         xlog.Logger
}

// NewStore opens one shard per DSN in cfg.ShardDSNs.
func NewStore(ctx context.Context, cfg config.Blobstore) (*Store, error) {
	if len(cfg.ShardDSNs) == 0 {
		return nil, fmt.Errorf("blobstore: at least one shard DSN is required")
	}
	shards := make([]*Shard, len(cfg.ShardDSNs))
	for i, dsn := range cfg.ShardDSNs {
		s, err := OpenShard(ctx, i, dsn)
		if err != nil {
			return nil, err
		}
		shards[i] = s
	}
	log := xlog.New("blobstore")
	log.Info("blobstore opened", "shards", len(shards), "chunk_size", cfg.ChunkSize.String(), "inline_threshold", cfg.InlineThreshold)
	return &Store{
		shards:      shards,
		cfg:         cfg,
		retryConfig: config.DefaultRetryBackoff(),
		log:         log,
	}, nil
}

// Close closes every shard.
func (st *Store) Close() error {
	var firstErr error
	for _, s := range st.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (st *Store) shardFor(key string) *Shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(st.shards)
	if idx < 0 {
		idx += len(st.shards)
	}
	return st.shards[idx]
}

// Put writes value under key according to policy, per §4.A.
func (st *Store) Put(ctx context.Context, key string, value []byte, policy PutPolicy) (PutStatus, error) {
	if len(key) > MaxKeyLen {
		return NotChecked, ErrKeyTooLong{Key: key}
	}
	shard := st.shardFor(key)

	var status PutStatus
	err := withRetry(ctx, st.retryConfig, func() error {
		var err error
		status, err = st.putOnShard(ctx, shard, key, value, policy)
		return err
	})
	xmetrics.BlobPutTotal.WithLabelValues(status.String()).Inc()
	if err != nil {
		st.log.Error("put failed", "key", key, "shard", shard.Index, "err", err)
	}
	if err == nil && policy == OverwriteAndLog {
		st.log.Info("put with OverwriteAndLog", "key", key, "shard", shard.Index, "previous_present", status == Overwrote)
	}
	return status, err
}

func (st *Store) putOnShard(ctx context.Context, shard *Shard, key string, value []byte, policy PutPolicy) (PutStatus, error) {
	tx, err := shard.write.BeginTx(ctx, nil)
	if err != nil {
		return NotChecked, fmt.Errorf("blobstore: begin put tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existed := false
	var row struct {
		found bool
	}
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM data_rows WHERE key = ?`, key).Scan(new(int))
	switch {
	case err == nil:
		row.found = true
	case errNoRows(err):
		row.found = false
	default:
		return NotChecked, fmt.Errorf("blobstore: checking existing key: %w", err)
	}
	existed = row.found

	if policy == IfAbsent && existed {
		return Prevented, nil
	}

	ctime := ctimeNow()
	method := chooseChunking(value, true)

	var inlineVal []byte
	var chunkPrefix string
	chunkCount := 0

	switch method {
	case InlineBase64:
		inlineVal = []byte(encodeInline(value))
	case ByContentHashBlake2:
		prefixID := chunkKey(value)
		chunkPrefix = prefixID.Hex()
		chunks := splitChunks(value)
		chunkCount = len(chunks)
		for i, chunk := range chunks {
			ck := chunkKey(chunk)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (chunk_key, data) VALUES (?, ?)
				 ON CONFLICT(chunk_key) DO NOTHING`, ck.Hex(), chunk); err != nil {
				return NotChecked, fmt.Errorf("blobstore: write chunk %d: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunk_order (chunk_key_prefix, chunk_index, chunk_key) VALUES (?, ?, ?)
				 ON CONFLICT(chunk_key_prefix, chunk_index) DO UPDATE SET chunk_key = excluded.chunk_key`,
				chunkPrefix, i, ck.Hex()); err != nil {
				return NotChecked, fmt.Errorf("blobstore: write chunk order %d: %w", i, err)
			}
		}
		xmetrics.BlobChunkCount.Observe(float64(chunkCount))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO data_rows (key, ctime, chunking_method, inline_value, chunk_key_prefix, chunk_count, generation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			ctime = excluded.ctime,
			chunking_method = excluded.chunking_method,
			inline_value = excluded.inline_value,
			chunk_key_prefix = excluded.chunk_key_prefix,
			chunk_count = excluded.chunk_count,
			generation = excluded.generation`,
		key, ctime, int(method), inlineVal, chunkPrefix, chunkCount, st.cfg.Generations.Put); err != nil {
		return NotChecked, fmt.Errorf("blobstore: write data row: %w", err)
	}

	// Only after the data row write succeeds do we record chunk
	// generations, per §4.A step 6 ("prevents dangling generations on
	// crash").
	if method == ByContentHashBlake2 {
		rows, qerr := tx.QueryContext(ctx, `SELECT chunk_key FROM chunk_order WHERE chunk_key_prefix = ?`, chunkPrefix)
		if qerr != nil {
			return NotChecked, fmt.Errorf("blobstore: reading chunk keys for generation write: %w", qerr)
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				_ = rows.Close()
				return NotChecked, fmt.Errorf("blobstore: scanning chunk key: %w", err)
			}
			keys = append(keys, k)
		}
		_ = rows.Close()
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunk_generations (chunk_key, generation) VALUES (?, ?)
				 ON CONFLICT(chunk_key) DO UPDATE SET generation = MAX(generation, excluded.generation)`,
				k, st.cfg.Generations.Put); err != nil {
				return NotChecked, fmt.Errorf("blobstore: write chunk generation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return NotChecked, fmt.Errorf("blobstore: commit put: %w", err)
	}

	if existed {
		return Overwrote, nil
	}
	return New, nil
}

// Get reads key, falling through replica -> master per §4.A "Sharding".
func (st *Store) Get(ctx context.Context, key string) (Metadata, []byte, error) {
	shard := st.shardFor(key)

	meta, value, err := st.getFrom(ctx, shard.replica, key)
	if errNoRows(err) {
		meta, value, err = st.getFrom(ctx, shard.master, key)
	}
	if err != nil {
		xmetrics.BlobGetTotal.WithLabelValues("miss").Inc()
		return Metadata{}, nil, err
	}
	xmetrics.BlobGetTotal.WithLabelValues("hit").Inc()
	return meta, value, nil
}

func (st *Store) getFrom(ctx context.Context, db *sql.DB, key string) (Metadata, []byte, error) {
	var ctime int64
	var method int
	var inlineVal []byte
	var chunkPrefix sql.NullString
	var chunkCount int

	err := db.QueryRowContext(ctx,
		`SELECT ctime, chunking_method, inline_value, chunk_key_prefix, chunk_count FROM data_rows WHERE key = ?`,
		key).Scan(&ctime, &method, &inlineVal, &chunkPrefix, &chunkCount)
	if errNoRows(err) {
		return Metadata{}, nil, fmt.Errorf("blobstore: get %q: %w", key, sql.ErrNoRows)
	}
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("blobstore: get %q: %w", key, err)
	}

	meta := Metadata{Ctime: ctime}
	if ChunkingMethod(method) == InlineBase64 {
		value, derr := decodeInline(string(inlineVal))
		if derr != nil {
			return Metadata{}, nil, fmt.Errorf("blobstore: decode inline value for %q: %w", key, derr)
		}
		return meta, value, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT c.data FROM chunk_order o JOIN chunks c ON c.chunk_key = o.chunk_key
		 WHERE o.chunk_key_prefix = ? ORDER BY o.chunk_index ASC`, chunkPrefix.String)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("blobstore: reading chunks for %q: %w", key, err)
	}
	defer rows.Close()

	var value []byte
	n := 0
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return Metadata{}, nil, fmt.Errorf("blobstore: scanning chunk for %q: %w", key, err)
		}
		value = append(value, chunk...)
		n++
	}
	if n != chunkCount {
		// Chunk-presence assertion: fatal for this get, not for the
		// store as a whole, per §4.A "Failure semantics".
		return Metadata{}, nil, fmt.Errorf("blobstore: %q expected %d chunks, found %d", key, chunkCount, n)
	}
	return meta, value, nil
}

// IsPresent reports whether key has a data row, replica-first.
func (st *Store) IsPresent(ctx context.Context, key string) (bool, error) {
	shard := st.shardFor(key)
	present, err := st.isPresentOn(ctx, shard.replica, key)
	if err != nil {
		return false, err
	}
	if present {
		return true, nil
	}
	return st.isPresentOn(ctx, shard.master, key)
}

func (st *Store) isPresentOn(ctx context.Context, db *sql.DB, key string) (bool, error) {
	var x int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM data_rows WHERE key = ?`, key).Scan(&x)
	if errNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: is_present %q: %w", key, err)
	}
	return true, nil
}

// Unlink removes key's data row. Referenced chunks are left for the GC
// mark/delete pass to reclaim (§4.A "GC invariants").
func (st *Store) Unlink(ctx context.Context, key string) error {
	shard := st.shardFor(key)
	return withRetry(ctx, st.retryConfig, func() error {
		_, err := shard.write.ExecContext(ctx, `DELETE FROM data_rows WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("blobstore: unlink %q: %w", key, err)
		}
		return nil
	})
}

// Copy duplicates the data row at oldKey to newKey without re-reading
// or re-chunking the value, sharing chunk storage when both keys land
// on the same shard; otherwise it falls back to a get+put round-trip.
func (st *Store) Copy(ctx context.Context, oldKey, newKey string) error {
	if len(newKey) > MaxKeyLen {
		return ErrKeyTooLong{Key: newKey}
	}
	oldShard := st.shardFor(oldKey)
	newShard := st.shardFor(newKey)

	if oldShard.Index == newShard.Index {
		return withRetry(ctx, st.retryConfig, func() error {
			_, err := oldShard.write.ExecContext(ctx,
				`INSERT INTO data_rows (key, ctime, chunking_method, inline_value, chunk_key_prefix, chunk_count, generation)
				 SELECT ?, ctime, chunking_method, inline_value, chunk_key_prefix, chunk_count, generation
				 FROM data_rows WHERE key = ?
				 ON CONFLICT(key) DO UPDATE SET
					ctime = excluded.ctime,
					chunking_method = excluded.chunking_method,
					inline_value = excluded.inline_value,
					chunk_key_prefix = excluded.chunk_key_prefix,
					chunk_count = excluded.chunk_count,
					generation = excluded.generation`,
				newKey, oldKey)
			if err != nil {
				return fmt.Errorf("blobstore: copy %q -> %q: %w", oldKey, newKey, err)
			}
			return nil
		})
	}

	_, value, err := st.Get(ctx, oldKey)
	if err != nil {
		return fmt.Errorf("blobstore: copy read %q: %w", oldKey, err)
	}
	value = common.CopyBytes(value)
	_, err = st.Put(ctx, newKey, value, Overwrite)
	return err
}
