package pushrebase

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"

	"github.com/scmcore/corestore/ids"
)

func newTestDispatcher(t *testing.T, local LocalPushRebaseFunc) (*Dispatcher, *BookmarkStore) {
	t.Helper()
	store := newTestBookmarkStore(t)
	mover := &Mover{Store: store}
	d := &Dispatcher{
		Mover:      mover,
		LandClient: &RemoteLandServiceWithLocalFallback{Local: local, Mode: ModeLocalOnly},
	}
	return d, store
}

func TestDispatchPushRebaseLandsLocally(t *testing.T) {
	ctx := context.Background()
	base := ids.New(ids.DomainChangeset, []byte("base"))
	newHead := ids.New(ids.DomainChangeset, []byte("new-head"))
	bonsai := ids.New(ids.DomainChangeset, []byte("bonsai-1"))

	var calledOnto ids.ID
	local := func(ctx context.Context, onto ids.ID, bonsais []ids.ID) (Result, error) {
		calledOnto = onto
		return Result{NewHead: newHead, Rewritten: []Rewrite{{OldID: bonsai, NewID: newHead}}}, nil
	}
	d, store := newTestDispatcher(t, local)
	if err := store.set(ctx, "main", base, PhasePublic); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := d.Dispatch(ctx, Bundle{
		Action:       ActionPushRebase,
		Bonsais:      []ids.ID{bonsai},
		BookmarkPush: BookmarkPush{Name: "main"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calledOnto != base {
		t.Fatalf("expected local rebase to run onto %v, got %v", base, calledOnto)
	}
	if result.NewHead != newHead {
		t.Fatalf("expected new head %v, got %v", newHead, result.NewHead)
	}
	cur, err := store.Current(ctx, "main")
	if err != nil || cur == nil || *cur != newHead {
		t.Fatalf("expected bookmark advanced to %v, got %v (err %v)", newHead, cur, err)
	}
}

func TestDispatchBookmarkOnlyPushRebaseSkipsRebase(t *testing.T) {
	ctx := context.Background()
	target := ids.New(ids.DomainChangeset, []byte("forced-head"))
	called := false
	local := func(ctx context.Context, onto ids.ID, bonsais []ids.ID) (Result, error) {
		called = true
		return Result{}, nil
	}
	d, store := newTestDispatcher(t, local)

	result, err := d.Dispatch(ctx, Bundle{
		Action:       ActionBookmarkOnlyPushRebase,
		BookmarkPush: BookmarkPush{Name: "main", To: &target},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatalf("expected no call to the rebase function for a bookmark-only move")
	}
	if result.NewHead != target {
		t.Fatalf("expected new head %v, got %v", target, result.NewHead)
	}
	cur, err := store.Current(ctx, "main")
	if err != nil || cur == nil || *cur != target {
		t.Fatalf("expected bookmark at %v, got %v (err %v)", target, cur, err)
	}
}

func TestDispatchInfinitePushWritesDraftNoHooks(t *testing.T) {
	ctx := context.Background()
	scratch := ids.New(ids.DomainChangeset, []byte("scratch-head"))
	d, store := newTestDispatcher(t, nil)
	d.Mover.Pipeline = Pipeline{Hooks: []Hook{
		HookFunc{HookName: "must-not-run", Fn: func(ctx context.Context, c BookmarkChange) error {
			t.Fatalf("hook pipeline must not run for infinite push")
			return nil
		}},
	}}

	_, err := d.Dispatch(ctx, Bundle{
		Action:       ActionInfinitePush,
		BookmarkPush: BookmarkPush{Name: "scratch/foo", To: &scratch},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var phase string
	if err := store.db.QueryRowContext(ctx, `SELECT phase FROM bookmarks WHERE name = ?`, "scratch/foo").Scan(&phase); err != nil {
		t.Fatalf("read phase: %v", err)
	}
	if phase != string(PhaseDraft) {
		t.Fatalf("expected draft phase, got %s", phase)
	}
}

func TestRemoteLandServiceFallsBackToLocalOnFailure(t *testing.T) {
	ctx := context.Background()
	newHead := ids.New(ids.DomainChangeset, []byte("local-head"))
	local := func(ctx context.Context, onto ids.ID, bonsais []ids.ID) (Result, error) {
		return Result{NewHead: newHead}, nil
	}
	client := &RemoteLandServiceWithLocalFallback{
		Remote: failingLandClient{},
		Local:  local,
		Mode:   ModeRemoteWithLocalFallback,
	}
	result, err := client.Execute(ctx, "main", ids.New(ids.DomainChangeset, []byte("base")), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.NewHead != newHead {
		t.Fatalf("expected fallback to local result %v, got %v", newHead, result.NewHead)
	}
}

type failingLandClient struct{}

func (failingLandClient) Land(ctx context.Context, in *LandRequest, opts ...grpc.CallOption) (*LandReply, error) {
	return nil, errors.New("remote land service unavailable")
}
