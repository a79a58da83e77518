// Package manifest implements the stack manifest deriver of spec.md
// §4.F: given a linear stack of bonsai changesets (as produced by
// stacksplit, §4.I), derive one tree id per commit by walking a
// path-tree built from every commit's file changes. Grounded on
// repo_attributes/derive_batch.rs for the unfold/fold shape of the
// algorithm and on trie/trie_from_witness.go's recursive node-walk
// idiom for the bounded-concurrency traversal.
package manifest

import (
	"context"

	"github.com/scmcore/corestore/ids"
)

// LeafInfo is everything CreateLeafFunc needs to materialize a file
// entry: its repo path and the content id it should point at.
type LeafInfo struct {
	Path      string
	ContentID ids.ID
}

// Entry is a resolved tree or leaf result: what a path resolves to
// after a given commit.
type Entry struct {
	IsTree bool
	ID     ids.ID
}

// ChildEntry names one live subentry of a directory at a point in the
// stack.
type ChildEntry struct {
	Name  string
	Entry Entry
}

// TreeInfo is everything CreateTreeFunc needs to materialize a
// directory entry: its repo path and its current, already-resolved
// subentries (sorted by name for determinism).
type TreeInfo struct {
	Path       string
	Subentries []ChildEntry
}

// CreateTreeFunc materializes a directory entry for one commit.
type CreateTreeFunc func(ctx context.Context, info TreeInfo, csID ids.ID) (ids.ID, error)

// CreateLeafFunc materializes a file entry for one commit.
type CreateLeafFunc func(ctx context.Context, info LeafInfo, csID ids.ID) (ids.ID, error)

// Change is one commit's effect on a single path: Leaf set means an
// add/modify to that content id; Leaf nil means a delete.
type Change struct {
	CsID int // index into the stack, not the changeset id itself
	Leaf *ids.ID
}

// StackCommit is one input commit: its changeset id and the file
// changes it makes, keyed by repo path (as §4.F's splitter output
// would enumerate them, flattened).
type StackCommit struct {
	CsID    ids.ID
	Changes map[string]*ids.ID // nil value = delete
}
