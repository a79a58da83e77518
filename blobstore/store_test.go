package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/scmcore/corestore/internal/config"
)

func newTestStore(t *testing.T, shardCount int) *Store {
	t.Helper()
	dir := t.TempDir()
	var dsns []string
	for i := 0; i < shardCount; i++ {
		dsns = append(dsns, "file:"+filepath.Join(dir, fmt.Sprintf("shard%d.db", i)))
	}
	cfg := config.DefaultBlobstore(dsns)
	st, err := NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPutGetRoundTrip(t *testing.T) {
	st := newTestStore(t, 2)
	ctx := context.Background()

	status, err := st.Put(ctx, "content.blake2.00...01", []byte("hello"), Overwrite)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if status != New {
		t.Fatalf("expected New, got %v", status)
	}

	_, value, err := st.Get(ctx, "content.blake2.00...01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("hello")) {
		t.Fatalf("value mismatch: %q", value)
	}

	present, err := st.IsPresent(ctx, "content.blake2.00...01")
	if err != nil || !present {
		t.Fatalf("expected present, got %v err=%v", present, err)
	}
}

func TestIfAbsentIdempotent(t *testing.T) {
	st := newTestStore(t, 1)
	ctx := context.Background()

	if _, err := st.Put(ctx, "k1", []byte("v1"), IfAbsent); err != nil {
		t.Fatalf("first put: %v", err)
	}
	status, err := st.Put(ctx, "k1", []byte("v2"), IfAbsent)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if status != Prevented {
		t.Fatalf("expected Prevented, got %v", status)
	}

	_, value, err := st.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("expected original value to remain, got %q", value)
	}
}

func TestKeyTooLong(t *testing.T) {
	st := newTestStore(t, 1)
	longKey := make([]byte, MaxKeyLen+1)
	for i := range longKey {
		longKey[i] = 'a'
	}
	_, err := st.Put(context.Background(), string(longKey), []byte("v"), Overwrite)
	if err == nil {
		t.Fatalf("expected error for too-long key")
	}
}

func TestChunkDedupeAcrossKeys(t *testing.T) {
	st := newTestStore(t, 1)
	ctx := context.Background()

	big := make([]byte, 3*ChunkSize)
	for i := range big {
		big[i] = byte(i / ChunkSize)
	}

	if _, err := st.Put(ctx, "k1", big, Overwrite); err != nil {
		t.Fatalf("put k1: %v", err)
	}
	if _, err := st.Put(ctx, "k2", big, Overwrite); err != nil {
		t.Fatalf("put k2: %v", err)
	}

	shard := st.shards[0]
	var chunkRows int
	if err := shard.write.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunkRows); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunkRows != 3 {
		t.Fatalf("expected 3 deduplicated chunk rows, got %d", chunkRows)
	}

	_, v1, err := st.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get k1: %v", err)
	}
	if !bytes.Equal(v1, big) {
		t.Fatalf("k1 value mismatch")
	}
}

func TestUnlinkRemovesDataRow(t *testing.T) {
	st := newTestStore(t, 1)
	ctx := context.Background()
	if _, err := st.Put(ctx, "k", []byte("v"), Overwrite); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Unlink(ctx, "k"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	present, err := st.IsPresent(ctx, "k")
	if err != nil {
		t.Fatalf("is_present: %v", err)
	}
	if present {
		t.Fatalf("expected key to be gone after unlink")
	}
}

func TestCopyAcrossShards(t *testing.T) {
	st := newTestStore(t, 4)
	ctx := context.Background()
	if _, err := st.Put(ctx, "old-key", []byte("payload"), Overwrite); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Copy(ctx, "old-key", "new-key"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	_, value, err := st.Get(ctx, "new-key")
	if err != nil {
		t.Fatalf("get new-key: %v", err)
	}
	if !bytes.Equal(value, []byte("payload")) {
		t.Fatalf("copy value mismatch: %q", value)
	}
}

func TestMarkAndDeleteGC(t *testing.T) {
	st := newTestStore(t, 1)
	ctx := context.Background()
	big := bytes.Repeat([]byte("y"), 2*ChunkSize)
	if _, err := st.Put(ctx, "k", big, Overwrite); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Unlink(ctx, "k"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := st.Mark(ctx, 1); err != nil {
		t.Fatalf("mark: %v", err)
	}
	n, err := st.Delete(ctx, 2)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected orphaned chunks to be deleted")
	}
}
