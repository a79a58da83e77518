// Package blobstore implements the sharded, SQL-backed blob store of
// spec.md §4.A: put/get/is_present/unlink/copy over N SQL shards, with
// inline and content-hash-chunked representations and generation-based
// GC. Grounded on the teacher's ethdb Database/Putter/Cursor
// abstraction (capability-set interfaces over a swappable backend) and
// on mononoke/blobstore/sqlblob/src/lib.rs for the put/get/chunk
// algorithm itself.
package blobstore

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/scmcore/corestore/ids"
)

// PutPolicy selects the write semantics of Put, per §4.A.
type PutPolicy int

const (
	// Overwrite always writes, replacing any existing row.
	Overwrite PutPolicy = iota
	// IfAbsent writes only if no row exists yet; short-circuits to
	// Prevented otherwise.
	IfAbsent
	// OverwriteAndLog behaves like Overwrite but the store logs the
	// previous value's presence for audit (logging only; the write
	// semantics are identical to Overwrite).
	OverwriteAndLog
)

// PutStatus is returned by Put, per §4.A step 7.
type PutStatus int

const (
	New PutStatus = iota
	Overwrote
	Prevented
	NotChecked
)

func (s PutStatus) String() string {
	switch s {
	case New:
		return "New"
	case Overwrote:
		return "Overwrote"
	case Prevented:
		return "Prevented"
	case NotChecked:
		return "NotChecked"
	default:
		return "Unknown"
	}
}

// ChunkingMethod is the on-disk representation of a data row's value.
type ChunkingMethod int

const (
	InlineBase64 ChunkingMethod = iota
	ByContentHashBlake2
)

// MaxKeyLen is the fixed maximum key length (§6).
const MaxKeyLen = 200

// InlineThreshold is the inline-vs-chunked cutover: floor(255*3/4) = 191
// bytes of raw value, base64-encoded without padding (§6).
const InlineThreshold = 191

// ChunkSize is the maximum chunk size, 1 MiB (§6).
const ChunkSize = 1 << 20

// Metadata accompanies a Get result.
type Metadata struct {
	Ctime int64 // UNIX-epoch seconds; negative allowed for pre-epoch clocks.
}

// ErrKeyTooLong is returned by Put when key exceeds MaxKeyLen.
type ErrKeyTooLong struct{ Key string }

func (e ErrKeyTooLong) Error() string {
	return fmt.Sprintf("blobstore: key %q exceeds max length %d", e.Key, MaxKeyLen)
}

// chooseChunking decides InlineBase64 vs ByContentHashBlake2 per §4.A
// step 4. allowInline false forces chunked storage even for small
// values; Put, the only caller, always passes true.
func chooseChunking(value []byte, allowInline bool) ChunkingMethod {
	if allowInline && len(value) <= InlineThreshold {
		return InlineBase64
	}
	return ByContentHashBlake2
}

func encodeInline(value []byte) string {
	return base64.RawStdEncoding.EncodeToString(value)
}

func decodeInline(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

// splitChunks splits value into <=ChunkSize pieces, in order.
func splitChunks(value []byte) [][]byte {
	if len(value) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for off := 0; off < len(value); off += ChunkSize {
		end := off + ChunkSize
		if end > len(value) {
			end = len(value)
		}
		chunks = append(chunks, value[off:end])
	}
	return chunks
}

// chunkKey is the content-addressed storage key of one chunk, used both
// for the chunk's row key and for cross-value dedup (identical bytes at
// the same chunk position in two different puts land on the same row).
func chunkKey(chunk []byte) ids.ID {
	return ids.New(ids.DomainChunk, chunk)
}

// ctimeNow returns the current UNIX-epoch seconds, the ctime every put
// records on its data row.
func ctimeNow() int64 {
	return time.Now().Unix()
}
