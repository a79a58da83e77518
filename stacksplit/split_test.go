package stacksplit

import (
	"testing"

	"github.com/scmcore/corestore/ids"
)

func cid(s string) ids.ID { return ids.New(ids.DomainChangeset, []byte(s)) }

func content(s string) *ids.ID {
	id := ids.New(ids.DomainContent, []byte(s))
	return &id
}

// TestSplitAllowsFileDirReplacementWithinOneCommit checks the §3
// exception literally: a single commit may both delete "dir" and
// create "dir/file" (the legal file/directory replacement), since
// has_file_conflict only ever compares the accumulated stack state
// against a DIFFERENT, later commit's own changes — never a commit
// against itself.
func TestSplitAllowsFileDirReplacementWithinOneCommit(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")

	commits := []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"other": {Kind: KindChange, ContentID: content("x")},
		}},
		{ID: c1, Parents: []ids.ID{c0}, FileChanges: map[string]FileChange{
			"dir":      {Kind: KindDelete},
			"dir/file": {Kind: KindChange, ContentID: content("y")},
		}},
	}

	stacks := Split(commits, DefaultOptions())
	if len(stacks) != 1 || len(stacks[0].Commits) != 2 {
		t.Fatalf("expected both commits in one stack, got %d stacks", len(stacks))
	}
}

// TestSplitBreaksOnChangeVsDeleteAcrossCommits checks the other half
// of ChangeDelete mode: once a path has been touched by a live change
// in the accumulated stack, a LATER commit deleting that same path
// is a conflict and starts a new stack (§4.I: "only conflict is
// change-vs-delete on the same path").
func TestSplitBreaksOnChangeVsDeleteAcrossCommits(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")

	commits := []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"f": {Kind: KindChange, ContentID: content("x")},
		}},
		{ID: c1, Parents: []ids.ID{c0}, FileChanges: map[string]FileChange{
			"f": {Kind: KindDelete},
		}},
	}

	stacks := Split(commits, DefaultOptions())
	if len(stacks) != 2 {
		t.Fatalf("expected change-then-delete of the same path to split, got %d stacks", len(stacks))
	}
}

func TestSplitBreaksOnMerge(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")
	merge := cid("merge")
	c2 := cid("c2")

	commits := []BonsaiCommit{
		{ID: c0},
		{ID: c1, Parents: []ids.ID{c0}},
		{ID: merge, Parents: []ids.ID{c1, c0}},
		{ID: c2, Parents: []ids.ID{merge}},
	}

	stacks := Split(commits, DefaultOptions())
	// c0-c1 stack; merge alone; c2 alone (its parent "merge" matches but
	// merge itself can never be the prev half of a stack either way - it
	// IS allowed as next's parent reference, but merge.IsMerge() is only
	// evaluated when merge is prev or next itself).
	total := 0
	for _, s := range stacks {
		total += len(s.Commits)
	}
	if total != 4 {
		t.Fatalf("expected all 4 commits preserved across stacks, got %d", total)
	}
	for _, s := range stacks {
		for _, c := range s.Commits {
			if c.ID == merge && len(s.Commits) > 1 {
				t.Fatalf("merge commit must not stack with neighbours")
			}
		}
	}
}

func TestSplitBreaksOnPathPrefixConflict(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")

	commits := []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"a": {Kind: KindChange, ContentID: content("1")},
		}},
		{ID: c1, Parents: []ids.ID{c0}, FileChanges: map[string]FileChange{
			"a/b": {Kind: KindChange, ContentID: content("2")},
		}},
	}

	stacks := Split(commits, DefaultOptions())
	if len(stacks) != 2 {
		t.Fatalf("expected a/ vs a/b to split into 2 stacks, got %d", len(stacks))
	}
}

func TestSplitAnyChangeModeConflictsOnSamePathEdit(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")

	commits := []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"f": {Kind: KindChange, ContentID: content("1")},
		}},
		{ID: c1, Parents: []ids.ID{c0}, FileChanges: map[string]FileChange{
			"f": {Kind: KindChange, ContentID: content("2")},
		}},
	}

	opts := DefaultOptions()
	opts.ConflictMode = ChangeDelete
	if len(Split(commits, opts)) != 1 {
		t.Fatalf("ChangeDelete mode should stack two plain edits of the same path")
	}

	opts.ConflictMode = AnyChange
	if len(Split(commits, opts)) != 2 {
		t.Fatalf("AnyChange mode should split two edits of the same path")
	}
}

func TestSplitRespectsFileChangesLimit(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")

	commits := []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"a": {Kind: KindChange, ContentID: content("1")},
			"b": {Kind: KindChange, ContentID: content("2")},
		}},
		{ID: c1, Parents: []ids.ID{c0}, FileChanges: map[string]FileChange{
			"c": {Kind: KindChange, ContentID: content("3")},
		}},
	}

	opts := Options{ConflictMode: ChangeDelete, FileChangesLimit: 2}
	stacks := Split(commits, opts)
	if len(stacks) != 2 {
		t.Fatalf("expected limit of 2 to force a split at 3 combined changes, got %d stacks", len(stacks))
	}
}

func TestSplitConcatenationPreservesOrder(t *testing.T) {
	c0 := cid("c0")
	c1 := cid("c1")
	c2 := cid("c2")
	commits := []BonsaiCommit{
		{ID: c0},
		{ID: c1, Parents: []ids.ID{cid("other")}}, // parent mismatch -> new stack
		{ID: c2, Parents: []ids.ID{c1}},
	}
	stacks := Split(commits, DefaultOptions())
	var flat []ids.ID
	for _, s := range stacks {
		for _, c := range s.Commits {
			flat = append(flat, c.ID)
		}
	}
	want := []ids.ID{c0, c1, c2}
	if len(flat) != len(want) {
		t.Fatalf("got %d commits, want %d", len(flat), len(want))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %s want %s", i, flat[i].Hex(), want[i].Hex())
		}
	}
}

func TestToManifestStackOmitsUntracked(t *testing.T) {
	c0 := cid("c0")
	s := LinearStack{Commits: []BonsaiCommit{
		{ID: c0, FileChanges: map[string]FileChange{
			"a": {Kind: KindChange, ContentID: content("1")},
			"b": {Kind: KindUntracked},
			"c": {Kind: KindDelete},
		}},
	}}
	ms := s.ToManifestStack()
	if len(ms) != 1 {
		t.Fatalf("expected 1 stack commit")
	}
	if _, ok := ms[0].Changes["b"]; ok {
		t.Fatalf("untracked change must be omitted")
	}
	if ms[0].Changes["c"] != nil {
		t.Fatalf("delete must map to nil")
	}
	if ms[0].Changes["a"] == nil {
		t.Fatalf("change must carry content id")
	}
}
