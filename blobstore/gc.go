package blobstore

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/RoaringBitmap/roaring"
	"github.com/scmcore/corestore/internal/xlog"
)

// chunkGenState is the per-chunk generation outcome tracked during a
// mark pass (§4.A step 5: "Track per-chunk generation state").
type chunkGenState int

const (
	genNone chunkGenState = iota
	genUpdated
	genNeedsInsert
)

// Mark advances the generation of every chunk reachable from a live
// data row to markGeneration, on every shard. It uses a roaring bitmap
// per shard to track which chunk rows have already been visited this
// pass, the same sharded-bitset technique the teacher's ethdb/bitmapdb
// package uses for block-level indices, repurposed here to dedupe
// chunk-generation writes within a single mark pass instead of across
// LMDB buckets.
func (st *Store) Mark(ctx context.Context, markGeneration int64) error {
	log := xlog.New("blobstore.gc")
	for _, shard := range st.shards {
		n, err := st.markShard(ctx, shard, markGeneration)
		if err != nil {
			return fmt.Errorf("blobstore: mark shard %d: %w", shard.Index, err)
		}
		log.Info("mark pass complete", "shard", shard.Index, "chunks_marked", n)
	}
	return nil
}

func (st *Store) markShard(ctx context.Context, shard *Shard, markGeneration int64) (int, error) {
	rows, err := shard.write.QueryContext(ctx, `
		SELECT DISTINCT co.chunk_key FROM chunk_order co
		JOIN data_rows d ON d.chunk_key_prefix = co.chunk_key_prefix`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	// visited tracks chunk-key fingerprints already processed this pass
	// in a compact bitmap rather than a Go set, the way bitmapdb tracks
	// large block-range memberships without per-entry map overhead.
	// Collisions only cause a redundant re-check, never a missed one.
	visited := roaring.New()
	marked := 0
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return marked, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return marked, err
	}

	for _, k := range keys {
		fp := fingerprint(k)
		visited.Add(fp)

		state, err := st.chunkGenerationState(ctx, shard, k, markGeneration)
		if err != nil {
			return marked, err
		}
		switch state {
		case genNeedsInsert:
			if _, err := shard.write.ExecContext(ctx,
				`INSERT INTO chunk_generations (chunk_key, generation) VALUES (?, ?)`, k, markGeneration); err != nil {
				return marked, err
			}
			marked++
		case genUpdated:
			if _, err := shard.write.ExecContext(ctx,
				`UPDATE chunk_generations SET generation = ? WHERE chunk_key = ? AND generation < ?`,
				markGeneration, k, markGeneration); err != nil {
				return marked, err
			}
			marked++
		case genNone:
			// already at or above markGeneration; nothing to do.
		}
	}
	return marked, nil
}

func fingerprint(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (st *Store) chunkGenerationState(ctx context.Context, shard *Shard, chunkKey string, markGeneration int64) (chunkGenState, error) {
	var gen int64
	err := shard.write.QueryRowContext(ctx, `SELECT generation FROM chunk_generations WHERE chunk_key = ?`, chunkKey).Scan(&gen)
	switch {
	case err == sql.ErrNoRows:
		return genNeedsInsert, nil
	case err != nil:
		return genNone, err
	case gen < markGeneration:
		return genUpdated, nil
	default:
		return genNone, nil
	}
}

// Delete removes chunk rows whose generation is at or below
// deleteGeneration and that are no longer referenced by any chunk_order
// entry (i.e. no live data row points at them), per §3's GC generation
// invariant.
func (st *Store) Delete(ctx context.Context, deleteGeneration int64) (int64, error) {
	var total int64
	for _, shard := range st.shards {
		res, err := shard.write.ExecContext(ctx, `
			DELETE FROM chunks WHERE chunk_key IN (
				SELECT cg.chunk_key FROM chunk_generations cg
				WHERE cg.generation <= ?
				AND NOT EXISTS (SELECT 1 FROM chunk_order co
					JOIN data_rows d ON d.chunk_key_prefix = co.chunk_key_prefix
					WHERE co.chunk_key = cg.chunk_key)
			)`, deleteGeneration)
		if err != nil {
			return total, fmt.Errorf("blobstore: delete shard %d: %w", shard.Index, err)
		}
		n, _ := res.RowsAffected()
		if _, err := shard.write.ExecContext(ctx, `
			DELETE FROM chunk_generations WHERE generation <= ?
			AND NOT EXISTS (SELECT 1 FROM chunk_order co
				JOIN data_rows d ON d.chunk_key_prefix = co.chunk_key_prefix
				WHERE co.chunk_key = chunk_generations.chunk_key)`,
			deleteGeneration); err != nil {
			return total, fmt.Errorf("blobstore: delete shard %d generations: %w", shard.Index, err)
		}
		total += n
	}
	return total, nil
}

// RewriteInline finds chunked data rows small enough to now be stored
// inline and rewrites them, but only for rows older than
// ctimeInlineGrace (§4.A: "done only for rows whose ctime is older than
// ctime_inline_grace ... via an optimistic-compare update keyed on old
// ctime"), so a row freshly written just before a shrinking edit isn't
// racily rewritten out from under a concurrent writer.
func (st *Store) RewriteInline(ctx context.Context, now int64, graceSeconds int64) (int, error) {
	rewritten := 0
	cutoff := now - graceSeconds
	for _, shard := range st.shards {
		rows, err := shard.write.QueryContext(ctx,
			`SELECT key, ctime FROM data_rows WHERE chunking_method = ? AND ctime < ?`,
			int(ByContentHashBlake2), cutoff)
		if err != nil {
			return rewritten, fmt.Errorf("blobstore: scan for inline rewrite shard %d: %w", shard.Index, err)
		}
		type candidate struct {
			key   string
			ctime int64
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.key, &c.ctime); err != nil {
				rows.Close()
				return rewritten, err
			}
			candidates = append(candidates, c)
		}
		rows.Close()

		for _, c := range candidates {
			_, value, err := st.getFrom(ctx, shard.write, c.key)
			if err != nil {
				continue // chunk-presence failure here is fatal to this row only.
			}
			if len(value) > InlineThreshold {
				continue
			}
			res, err := shard.write.ExecContext(ctx,
				`UPDATE data_rows SET chunking_method = ?, inline_value = ?, chunk_key_prefix = NULL, chunk_count = 0
				 WHERE key = ? AND ctime = ?`,
				int(InlineBase64), []byte(encodeInline(value)), c.key, c.ctime)
			if err != nil {
				return rewritten, fmt.Errorf("blobstore: rewrite inline %q: %w", c.key, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				rewritten++
			}
		}
	}
	return rewritten, nil
}
