package manifest

import (
	"context"
	"fmt"
	"testing"

	"github.com/scmcore/corestore/ids"
)

// stubCreators builds deterministic, content-addressed ids for leaves
// and trees so tests can independently recompute expected results and
// compare them against what DeriveStack actually derived.
func stubCreators() (CreateLeafFunc, CreateTreeFunc) {
	createLeaf := func(_ context.Context, info LeafInfo, csID ids.ID) (ids.ID, error) {
		return ids.New(ids.DomainFileUnode, []byte(info.Path+"@"+info.ContentID.Hex())), nil
	}
	var createTree CreateTreeFunc
	createTree = func(_ context.Context, info TreeInfo, csID ids.ID) (ids.ID, error) {
		desc := info.Path + "["
		for _, c := range info.Subentries {
			desc += fmt.Sprintf("%s=%v:%s,", c.Name, c.Entry.IsTree, c.Entry.ID.Hex())
		}
		desc += "]"
		return ids.New(ids.DomainManifestUnode, []byte(desc)), nil
	}
	return createLeaf, createTree
}

func contentID(s string) ids.ID { return ids.New(ids.DomainContent, []byte(s)) }

func TestDeriveStackFileDirReplacement(t *testing.T) {
	createLeaf, createTree := stubCreators()
	d := NewDeriver(createTree, createLeaf)

	x := contentID("x")
	y := contentID("y")
	cs0 := ids.New(ids.DomainChangeset, []byte("c0"))
	cs1 := ids.New(ids.DomainChangeset, []byte("c1"))
	cs2 := ids.New(ids.DomainChangeset, []byte("c2"))

	stack := []StackCommit{
		{CsID: cs0, Changes: map[string]*ids.ID{"dir": &x}},
		{CsID: cs1, Changes: map[string]*ids.ID{"dir": nil, "dir/file": &y}},
		{CsID: cs2, Changes: map[string]*ids.ID{"dir/file": nil}},
	}

	got, err := d.DeriveStack(context.Background(), stack)
	if err != nil {
		t.Fatalf("derive stack: %v", err)
	}

	ctx := context.Background()
	leafX, _ := createLeaf(ctx, LeafInfo{Path: "dir", ContentID: x}, cs0)
	wantC0, _ := createTree(ctx, TreeInfo{Path: "", Subentries: []ChildEntry{{Name: "dir", Entry: Entry{IsTree: false, ID: leafX}}}}, cs0)
	if got[cs0] != wantC0 {
		t.Fatalf("tree(c0) = %s, want %s", got[cs0].Hex(), wantC0.Hex())
	}

	leafY, _ := createLeaf(ctx, LeafInfo{Path: "dir/file", ContentID: y}, cs1)
	dirTreeC1, _ := createTree(ctx, TreeInfo{Path: "dir", Subentries: []ChildEntry{{Name: "file", Entry: Entry{IsTree: false, ID: leafY}}}}, cs1)
	wantC1, _ := createTree(ctx, TreeInfo{Path: "", Subentries: []ChildEntry{{Name: "dir", Entry: Entry{IsTree: true, ID: dirTreeC1}}}}, cs1)
	if got[cs1] != wantC1 {
		t.Fatalf("tree(c1) = %s, want %s", got[cs1].Hex(), wantC1.Hex())
	}

	wantC2, _ := createTree(ctx, TreeInfo{Path: "", Subentries: nil}, cs2)
	if got[cs2] != wantC2 {
		t.Fatalf("tree(c2) = %s, want %s (expected empty root tree)", got[cs2].Hex(), wantC2.Hex())
	}
}

func TestDeriveStackRejectsFileDeletionAfterSubentries(t *testing.T) {
	createLeaf, createTree := stubCreators()
	d := NewDeriver(createTree, createLeaf)

	child := contentID("child")
	cs0 := ids.New(ids.DomainChangeset, []byte("c0"))
	cs1 := ids.New(ids.DomainChangeset, []byte("c1"))

	// c0 adds "p/child" (p is a directory from the start), c1 then
	// tries to delete "p" itself as if it were a file. "p" already had
	// a live subentry before the deletion, so this must be rejected.
	stack := []StackCommit{
		{CsID: cs0, Changes: map[string]*ids.ID{"p/child": &child}},
		{CsID: cs1, Changes: map[string]*ids.ID{"p": nil}},
	}

	_, err := d.DeriveStack(context.Background(), stack)
	if err == nil {
		t.Fatalf("expected an error for deleting %q after subentries exist, got nil", "p")
	}
}

func TestDeriveStackSingleFileAdd(t *testing.T) {
	createLeaf, createTree := stubCreators()
	d := NewDeriver(createTree, createLeaf)

	content := contentID("hello")
	cs0 := ids.New(ids.DomainChangeset, []byte("only"))
	stack := []StackCommit{
		{CsID: cs0, Changes: map[string]*ids.ID{"a.txt": &content}},
	}

	got, err := d.DeriveStack(context.Background(), stack)
	if err != nil {
		t.Fatalf("derive stack: %v", err)
	}
	if _, ok := got[cs0]; !ok {
		t.Fatalf("expected a tree id for %s", cs0.Hex())
	}
}

func TestDeriveStackEmptyCommitYieldsEmptyRootTree(t *testing.T) {
	createLeaf, createTree := stubCreators()
	d := NewDeriver(createTree, createLeaf)

	cs0 := ids.New(ids.DomainChangeset, []byte("empty"))
	stack := []StackCommit{{CsID: cs0, Changes: map[string]*ids.ID{}}}

	got, err := d.DeriveStack(context.Background(), stack)
	if err != nil {
		t.Fatalf("derive stack: %v", err)
	}
	want, _ := createTree(context.Background(), TreeInfo{Path: "", Subentries: nil}, cs0)
	if got[cs0] != want {
		t.Fatalf("expected empty root tree %s, got %s", want.Hex(), got[cs0].Hex())
	}
}
