package stacksplit

import (
	"strings"

	"github.com/scmcore/corestore/ids"
	"github.com/scmcore/corestore/manifest"
)

// Split partitions commits into the maximal runs where every adjacent
// pair satisfies CanStack and each commit's changes do not conflict
// with the changes accumulated by the stack so far, starting a new
// LinearStack whenever either check fails (§4.I: "Splitter iterates the batch, starting a new stack
// whenever can-stack returns false"). The concatenation of all
// returned stacks' Commits equals commits, order preserved (§8 quantified
// invariant 6).
func Split(commits []BonsaiCommit, opts Options) []LinearStack {
	var out []LinearStack
	var cur *building
	for _, c := range commits {
		if cur == nil {
			cur = newBuilding(c)
			continue
		}
		if CanStack(cur.last(), c, len(cur.accumulated), opts) &&
			!hasFileConflict(cur.accumulated, c.FileChanges, opts.ConflictMode) {
			cur.append(c)
			continue
		}
		out = append(out, cur.finish())
		cur = newBuilding(c)
	}
	if cur != nil {
		out = append(out, cur.finish())
	}
	return out
}

// CanStack is the can-stack(prev, next, opts) predicate of §4.I.
// curFileCount is the combined file-change count already accumulated
// by the stack prev belongs to (prev's own changes included).
func CanStack(prev, next BonsaiCommit, curFileCount int, opts Options) bool {
	if prev.IsMerge() || next.IsMerge() {
		return false
	}
	if opts.RejectCopyInfo && (prev.hasAnyCopyInfo() || next.hasAnyCopyInfo()) {
		return false
	}
	if len(next.Parents) != 1 || next.Parents[0] != prev.ID {
		return false
	}
	combined := curFileCount + len(next.FileChanges)
	if opts.FileChangesLimit > 0 && combined > opts.FileChangesLimit {
		return false
	}
	if hasFileConflict(prev.FileChanges, next.FileChanges, opts.ConflictMode) {
		return false
	}
	return true
}

// hasFileConflict implements has_file_conflict(cur_files, next_files,
// mode) from §4.I.
func hasFileConflict(cur, next map[string]FileChange, mode ConflictMode) bool {
	for cp, cch := range cur {
		for np, nch := range next {
			if cp == np {
				if mode == AnyChange {
					return true
				}
				if (cch.Kind == KindDelete) != (nch.Kind == KindDelete) {
					return true
				}
				continue
			}
			if isPathPrefix(cp, np) || isPathPrefix(np, cp) {
				return true
			}
		}
	}
	return false
}

// isPathPrefix reports whether a names a directory that is a strict
// ancestor of path b ("dir" is a prefix of "dir/file" but not of
// "dirother" or of itself).
func isPathPrefix(a, b string) bool {
	return strings.HasPrefix(b, a+"/")
}

type building struct {
	parent      *BonsaiCommit
	commits     []BonsaiCommit
	accumulated map[string]FileChange
}

func newBuilding(first BonsaiCommit) *building {
	b := &building{commits: []BonsaiCommit{first}, accumulated: map[string]FileChange{}}
	if len(first.Parents) == 1 {
		p := first.Parents[0]
		b.parent = &p
	}
	for path, fc := range first.FileChanges {
		b.accumulated[path] = fc
	}
	return b
}

func (b *building) last() BonsaiCommit { return b.commits[len(b.commits)-1] }

func (b *building) append(c BonsaiCommit) {
	b.commits = append(b.commits, c)
	for path, fc := range c.FileChanges {
		b.accumulated[path] = fc
	}
}

func (b *building) finish() LinearStack {
	return LinearStack{Parent: b.parent, Commits: b.commits, Accumulated: b.accumulated}
}

// ToManifestStack flattens the stack's per-commit changes into the
// []manifest.StackCommit shape manifest.Deriver.DeriveStack consumes
// (§4.F is fed directly off a splitter stack). KindUntracked changes
// carry no content id and are omitted: a submodule-style untracked
// entry is not yet representable as a manifest leaf (see DESIGN.md).
func (s LinearStack) ToManifestStack() []manifest.StackCommit {
	out := make([]manifest.StackCommit, 0, len(s.Commits))
	for _, c := range s.Commits {
		changes := make(map[string]*ids.ID, len(c.FileChanges))
		for path, fc := range c.FileChanges {
			switch fc.Kind {
			case KindChange:
				changes[path] = fc.ContentID
			case KindDelete:
				changes[path] = nil
			case KindUntracked:
				continue
			}
		}
		out = append(out, manifest.StackCommit{CsID: c.ID, Changes: changes})
	}
	return out
}
