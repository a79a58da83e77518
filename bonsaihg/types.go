// Package bonsaihg implements the bidirectional Bonsai<->Hg changeset
// mapping of spec.md §4.C: a caching, replica-aware index with
// rendez-vous batched lookups. Grounded on
// repo_attributes/bonsai_hg_mapping/src/lib.rs for the contract and on
// the teacher's golang-lru dependency for the in-process cache tier.
package bonsaihg

import (
	"crypto/sha1" //nolint:gosec // Hg's changeset id format is defined as SHA1 by spec, not a security boundary.
	"encoding/hex"
	"fmt"

	"github.com/scmcore/corestore/ids"
)

// HgID is the legacy Hg changeset id: SHA1(sorted(p1,p2,null_if_absent)
// || content_bytes), per §6. It is not a blake2 content id like ids.ID
// because Hg's hash scheme predates and differs from the domain-tagged
// Blake2 scheme used elsewhere in corestore.
type HgID [20]byte

func (h HgID) Hex() string    { return hex.EncodeToString(h[:]) }
func (h HgID) String() string { return h.Hex() }

// Compare orders two HgIDs byte-wise.
func (h HgID) Compare(other HgID) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NullHgID is the 20-byte zero hash substituted for an absent parent
// slot in single-parent hashing, per §6.
var NullHgID HgID

// HgIDFromBytes validates and wraps a 20-byte slice.
func HgIDFromBytes(b []byte) (HgID, error) {
	var h HgID
	if len(b) != 20 {
		return h, fmt.Errorf("bonsaihg: expected 20-byte hg id, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashHgChangeset computes the Hg changeset hash: SHA1(sorted(p1,p2) ||
// content), substituting NullHgID for an absent parent, per §6.
func HashHgChangeset(p1, p2 *HgID, content []byte) HgID {
	a, b := NullHgID, NullHgID
	if p1 != nil {
		a = *p1
	}
	if p2 != nil {
		b = *p2
	}
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	h := sha1.New() //nolint:gosec
	h.Write(a[:])
	h.Write(b[:])
	h.Write(content)
	var out HgID
	copy(out[:], h.Sum(nil))
	return out
}

// BonsaiID identifies a Bonsai changeset: a Blake2 content id tagged
// with DomainChangeset.
type BonsaiID struct{ ids.ID }

// NewBonsaiID hashes changeset content into a BonsaiID.
func NewBonsaiID(content []byte) BonsaiID {
	return BonsaiID{ids.New(ids.DomainChangeset, content)}
}

// Entry is one row of the Bonsai<->Hg mapping.
type Entry struct {
	Bonsai BonsaiID
	Hg     HgID
	RepoID int64
}

// Equal reports whether two entries describe the same mapping.
func (e Entry) Equal(other Entry) bool {
	return e.RepoID == other.RepoID && e.Bonsai.Equal(other.Bonsai.ID) && e.Hg == other.Hg
}

// ConflictingEntriesError is returned by Add when a different entry for
// the same key already exists, per §4.C.
type ConflictingEntriesError struct {
	Existing, Attempted Entry
}

func (e *ConflictingEntriesError) Error() string {
	return fmt.Sprintf("bonsaihg: conflicting entries: existing=%+v attempted=%+v", e.Existing, e.Attempted)
}

// RaceConditionWithDeleteError is returned by Add when the row was
// deleted concurrently with the insert attempt.
type RaceConditionWithDeleteError struct{ Attempted Entry }

func (e *RaceConditionWithDeleteError) Error() string {
	return fmt.Sprintf("bonsaihg: race with concurrent delete for %+v", e.Attempted)
}

// parseBonsaiHex inverts BonsaiID.Hex.
func parseBonsaiHex(s string) (BonsaiID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return BonsaiID{}, fmt.Errorf("bonsaihg: bad bonsai hex %q: %w", s, err)
	}
	id, err := ids.FromBytes(ids.DomainChangeset, b)
	if err != nil {
		return BonsaiID{}, err
	}
	return BonsaiID{id}, nil
}

// parseHgHex inverts HgID.Hex.
func parseHgHex(s string) (HgID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return HgID{}, fmt.Errorf("bonsaihg: bad hg hex %q: %w", s, err)
	}
	return HgIDFromBytes(b)
}
