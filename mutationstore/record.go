// Package mutationstore implements the append-only mutation graph log
// of spec.md §4.D: predecessor/successor/split-head edges recording
// why a commit was replaced (amend, rebase, split, fold), with DAG
// reconstruction and obsolete-set computation over that graph.
// Grounded on eden/scm/lib/mutationstore/src/lib.rs for the record
// layout and the auto-extension-on-flush heuristic, and on
// blobstore's multi-table secondary-index convention for how the
// predecessor/split lookups are indexed in SQL.
package mutationstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Node is a 32-byte commit vertex id in the mutation graph. Unlike
// ids.ID it carries no domain tag: the mutation graph records whatever
// commit hash scheme the caller uses (bonsai ids, or any other 32-byte
// vertex name), per §4.D's generic "predecessor/successor" wording.
type Node [32]byte

func (n Node) Hex() string    { return fmt.Sprintf("%x", n[:]) }
func (n Node) String() string { return n.Hex() }

// NodeFromBytes validates and wraps a 32-byte slice.
func NodeFromBytes(b []byte) (Node, error) {
	var n Node
	if len(b) != 32 {
		return n, fmt.Errorf("mutationstore: expected 32-byte node, got %d", len(b))
	}
	copy(n[:], b)
	return n, nil
}

// Origin tags where an edge came from: recorded locally by this
// process, or learned by syncing another store's log. Not named by
// spec.md's record format directly, but present in the original
// mutationstore's MutationEntry (its `origin` field) and preserved
// here across Flush/GetDag so synced edges can be told apart from
// local ones without a second store.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginSynced
)

// recordVersion is the leading "1-byte succ marker" of §4.D's layout.
// The original format has no version byte of its own; this repo
// repurposes that leading byte as a schema version so the on-disk
// layout can evolve without breaking older rows.
const recordVersion = 1

// Entry is one edge (or split-group) in the mutation graph: the
// successor commit produced by applying Op to Preds (and, for a split,
// the other fragments in Split).
type Entry struct {
	Succ   Node
	Preds  []Node
	Split  []Node
	Op     string
	User   string
	Time   int64 // unix seconds
	Tz     int32 // minutes east of UTC
	Extras map[string]string
	Origin Origin
}

// Serialize encodes an entry per §4.D:
//
//	[1-byte succ marker][32-byte succ]
//	[VLQ pred_count][pred_count x 32 bytes]
//	[VLQ split_count][split_count x 32 bytes]
//	[op, user, time, tz, extras]
//
// The pack carries no VLQ-encoding library, so this reaches for
// encoding/binary's unsigned varint, which is the same base-128
// continuation-bit scheme the original vlqencoding crate implements;
// see DESIGN.md for why no third-party dependency covers this.
func (e Entry) Serialize(w io.Writer) error {
	buf := make([]byte, binary.MaxVarintLen64)

	if _, err := w.Write([]byte{recordVersion}); err != nil {
		return err
	}
	if _, err := w.Write(e.Succ[:]); err != nil {
		return err
	}

	if err := writeVLQ(w, buf, uint64(len(e.Preds))); err != nil {
		return err
	}
	for _, p := range e.Preds {
		if _, err := w.Write(p[:]); err != nil {
			return err
		}
	}

	if err := writeVLQ(w, buf, uint64(len(e.Split))); err != nil {
		return err
	}
	for _, s := range e.Split {
		if _, err := w.Write(s[:]); err != nil {
			return err
		}
	}

	if err := writeString(w, buf, e.Op); err != nil {
		return err
	}
	if err := writeString(w, buf, e.User); err != nil {
		return err
	}
	if err := writeVLQ(w, buf, zigzagEncode(e.Time)); err != nil {
		return err
	}
	if err := writeVLQ(w, buf, zigzagEncode(int64(e.Tz))); err != nil {
		return err
	}
	if err := writeVLQ(w, buf, uint64(e.Origin)); err != nil {
		return err
	}

	if err := writeVLQ(w, buf, uint64(len(e.Extras))); err != nil {
		return err
	}
	for k, v := range e.Extras {
		if err := writeString(w, buf, k); err != nil {
			return err
		}
		if err := writeString(w, buf, v); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeEntry inverts Serialize.
func DeserializeEntry(r io.ByteReader) (Entry, error) {
	var e Entry
	versionByte, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	if versionByte != recordVersion {
		return e, fmt.Errorf("mutationstore: unsupported record version %d", versionByte)
	}
	if err := readFull(r, e.Succ[:]); err != nil {
		return e, err
	}

	predCount, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	e.Preds = make([]Node, predCount)
	for i := range e.Preds {
		if err := readFull(r, e.Preds[i][:]); err != nil {
			return e, err
		}
	}

	splitCount, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	e.Split = make([]Node, splitCount)
	for i := range e.Split {
		if err := readFull(r, e.Split[i][:]); err != nil {
			return e, err
		}
	}

	if e.Op, err = readString(r); err != nil {
		return e, err
	}
	if e.User, err = readString(r); err != nil {
		return e, err
	}
	rawTime, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	e.Time = zigzagDecode(rawTime)
	rawTz, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	e.Tz = int32(zigzagDecode(rawTz))
	origin, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	e.Origin = Origin(origin)

	extraCount, err := readVLQ(r)
	if err != nil {
		return e, err
	}
	if extraCount > 0 {
		e.Extras = make(map[string]string, extraCount)
		for i := uint64(0); i < extraCount; i++ {
			k, err := readString(r)
			if err != nil {
				return e, err
			}
			v, err := readString(r)
			if err != nil {
				return e, err
			}
			e.Extras[k] = v
		}
	}
	return e, nil
}

func writeVLQ(w io.Writer, buf []byte, v uint64) error {
	n := binary.PutUvarint(buf, v)
	_, err := w.Write(buf[:n])
	return err
}

func writeString(w io.Writer, buf []byte, s string) error {
	if err := writeVLQ(w, buf, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readVLQ(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readString(r io.ByteReader) (string, error) {
	n, err := readVLQ(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}

func readFull(r io.ByteReader, out []byte) error {
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		out[i] = b
	}
	return nil
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// encodeEntry is a convenience used by Store for writing a whole record
// into one []byte blob column.
func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (Entry, error) {
	return DeserializeEntry(bytes.NewReader(raw))
}
