package pushrebase

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/scmcore/corestore/ids"
)

func newTestBookmarkStore(t *testing.T) *BookmarkStore {
	t.Helper()
	s, err := OpenBookmarkStore(context.Background(), "file:"+filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatalf("open bookmark store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPlainPushCreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestBookmarkStore(t)
	m := &Mover{Store: store}

	target := ids.New(ids.DomainChangeset, []byte("head"))
	push := BookmarkPush{Name: "main", From: nil, To: &target}
	if err := m.Move(ctx, push, nil, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	cur, err := store.Current(ctx, "main")
	if err != nil || cur == nil || *cur != target {
		t.Fatalf("expected bookmark at %v, got %v (err %v)", target, cur, err)
	}
}

func TestPlainPushRejectsCreateWhenAlreadyExists(t *testing.T) {
	ctx := context.Background()
	store := newTestBookmarkStore(t)
	m := &Mover{Store: store}

	target := ids.New(ids.DomainChangeset, []byte("head"))
	push := BookmarkPush{Name: "main", From: nil, To: &target}
	if err := m.Move(ctx, push, nil, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Move(ctx, push, nil, false); err == nil {
		t.Fatalf("expected rejection of second create")
	}
}

func TestPlainPushDeleteRequiresMatchingFrom(t *testing.T) {
	ctx := context.Background()
	store := newTestBookmarkStore(t)
	m := &Mover{Store: store}

	target := ids.New(ids.DomainChangeset, []byte("head"))
	create := BookmarkPush{Name: "main", From: nil, To: &target}
	if err := m.Move(ctx, create, nil, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := ids.New(ids.DomainChangeset, []byte("stale"))
	del := BookmarkPush{Name: "main", From: &stale, To: nil}
	if err := m.Move(ctx, del, nil, false); err == nil {
		t.Fatalf("expected rejection of delete with stale From")
	}

	del2 := BookmarkPush{Name: "main", From: &target, To: nil}
	if err := m.Move(ctx, del2, nil, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cur, err := store.Current(ctx, "main")
	if err != nil || cur != nil {
		t.Fatalf("expected bookmark deleted, got %v (err %v)", cur, err)
	}
}

func TestPlainPushFastForwardRejectedWithoutAncestry(t *testing.T) {
	ctx := context.Background()
	store := newTestBookmarkStore(t)
	from := ids.New(ids.DomainChangeset, []byte("from"))
	to := ids.New(ids.DomainChangeset, []byte("to"))
	if err := store.set(ctx, "main", from, PhasePublic); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := &Mover{
		Store:      store,
		IsAncestor: func(ctx context.Context, ancestor, descendant ids.ID) (bool, error) { return false, nil },
	}
	push := BookmarkPush{Name: "main", From: &from, To: &to}
	if err := m.Move(ctx, push, nil, false); err == nil {
		t.Fatalf("expected non-fast-forward rejection")
	}
	if err := m.Move(ctx, push, nil, true); err != nil {
		t.Fatalf("expected explicit non-fast-forward override to succeed: %v", err)
	}
}

func TestHookRejectionIsStructured(t *testing.T) {
	ctx := context.Background()
	store := newTestBookmarkStore(t)
	m := &Mover{
		Store: store,
		Pipeline: Pipeline{Hooks: []Hook{
			HookFunc{HookName: "block-everything", Fn: func(ctx context.Context, c BookmarkChange) error {
				return Reject("not allowed")
			}},
		}},
	}
	to := ids.New(ids.DomainChangeset, []byte("head"))
	push := BookmarkPush{Name: "main", From: nil, To: &to}
	err := m.Move(ctx, push, nil, false)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	rej, ok := err.(*RejectionError)
	if !ok {
		t.Fatalf("expected *RejectionError, got %T: %v", err, err)
	}
	if len(rej.Rejections) != 1 || rej.Rejections[0].Hook != "block-everything" {
		t.Fatalf("unexpected rejections: %+v", rej.Rejections)
	}
}
