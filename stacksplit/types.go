// Package stacksplit implements the stack splitter of spec.md §4.I:
// deciding whether a batch of commits can be derived as one linear
// stack, and splitting it into the maximal runs that can. Its output
// feeds manifest.Deriver (§4.F) one LinearStack at a time. Grounded on
// repo_attributes/derive_batch.rs's can_derive_batch predicate for the
// can-stack rule and on eth/stagedsync's stage-boundary accumulation
// style for the iterate-and-cut loop.
package stacksplit

import "github.com/scmcore/corestore/ids"

// ChangeKind is the three-way shape of a Bonsai file change (§3).
type ChangeKind int

const (
	KindChange ChangeKind = iota
	KindDelete
	KindUntracked
)

// CopyInfo names the (path, id) a changed file was copied from.
type CopyInfo struct {
	Path string
	ID   ids.ID
}

// FileChange is one path's effect within a single commit.
type FileChange struct {
	Kind      ChangeKind
	ContentID *ids.ID // set iff Kind == KindChange
	FileType  string
	CopyFrom  *CopyInfo
}

// HasCopyInfo reports whether this change carries copy-from metadata.
func (c FileChange) HasCopyInfo() bool { return c.CopyFrom != nil }

// BonsaiCommit is the splitter's view of one commit: just enough to
// evaluate can-stack and to carry forward into manifest derivation.
// Parents has length 0 (root), 1, or 2 (merge, which can never stack).
type BonsaiCommit struct {
	ID          ids.ID
	Parents     []ids.ID
	FileChanges map[string]FileChange
}

// IsMerge reports whether the commit has two parents.
func (c BonsaiCommit) IsMerge() bool { return len(c.Parents) > 1 }

func (c BonsaiCommit) hasAnyCopyInfo() bool {
	for _, fc := range c.FileChanges {
		if fc.HasCopyInfo() {
			return true
		}
	}
	return false
}

// ConflictMode selects how has_file_conflict treats overlapping paths
// between a stack's accumulated files and a candidate next commit.
type ConflictMode int

const (
	// ChangeDelete: a conflict is either a change-vs-delete mismatch on
	// the exact same path, or a path-prefix collision (one touched path
	// is a directory ancestor of another). Two plain edits to the same
	// path across different commits are NOT a conflict under this mode.
	ChangeDelete ConflictMode = iota
	// AnyChange: any path touched by both is a conflict, in addition to
	// prefix collisions. Produces smaller stacks (see spec.md §9 Open
	// Questions — AnyChange vs ChangeDelete as default).
	AnyChange
)

// Options configures can-stack (§4.I).
type Options struct {
	// RejectCopyInfo mirrors "copy_info required" in §4.I: when true,
	// any commit carrying copy-from metadata can never stack with its
	// neighbour.
	RejectCopyInfo bool
	// FileChangesLimit bounds the combined file-change count across a
	// stack (§3 Linear stack). Zero means unbounded.
	FileChangesLimit int
	ConflictMode     ConflictMode
}

// DefaultOptions matches the §9 Open Question's resolution (see
// DESIGN.md): ChangeDelete is the default conflict mode, since it
// produces larger stacks at no correctness cost and matches the
// teacher's conservative-by-default posture elsewhere in this repo.
func DefaultOptions() Options {
	return Options{ConflictMode: ChangeDelete, FileChangesLimit: 10000}
}

// LinearStack is one maximal run the splitter produced: a parent (nil
// for a stack rooted at a commit with no parent), its ordered commits,
// and the net accumulated file-change view across the whole stack
// (later commits' entries at the same path shadow earlier ones).
type LinearStack struct {
	Parent      *ids.ID
	Commits     []BonsaiCommit
	Accumulated map[string]FileChange
}
