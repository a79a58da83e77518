package pushrebase

import (
	"context"
	"fmt"

	"github.com/scmcore/corestore/mutationstore"
)

// Dispatcher runs the four-way dispatch of §4.H against one
// repository: bonsais and mutations have already been uploaded by the
// time a Bundle reaches here (changeset's job), so this package only
// moves bookmarks, records the mutations carried with plain and
// infinite pushes, and runs/delegates the rebase itself. The two
// pushrebase actions do not record the bundle's mutations.
type Dispatcher struct {
	Mover      *Mover
	LandClient *RemoteLandServiceWithLocalFallback
	Mutations  *mutationstore.Store
}

// recordMutations appends bundle's mutation entries to the mutation
// log, if any were carried and a store is configured.
func (d *Dispatcher) recordMutations(ctx context.Context, entries []mutationstore.Entry) error {
	if d.Mutations == nil {
		return nil
	}
	for _, e := range entries {
		if err := d.Mutations.Add(ctx, e); err != nil {
			return fmt.Errorf("pushrebase: record mutation: %w", err)
		}
	}
	return d.Mutations.Flush(ctx)
}

// Dispatch runs bundle's action and returns the pushrebase result; for
// the two plain-bookmark actions, Result is zero-valued (they never
// rebase, they only move a bookmark or reassign it outright).
func (d *Dispatcher) Dispatch(ctx context.Context, bundle Bundle) (Result, error) {
	switch bundle.Action {
	case ActionPush:
		if err := d.Mover.Move(ctx, bundle.BookmarkPush, bundle.Bonsais, bundle.AllowNonFastForward); err != nil {
			return Result{}, err
		}
		return Result{}, d.recordMutations(ctx, bundle.Mutations)
	case ActionInfinitePush:
		return Result{}, d.infinitePush(ctx, bundle)
	case ActionPushRebase:
		return d.pushRebase(ctx, bundle)
	case ActionBookmarkOnlyPushRebase:
		return d.bookmarkOnlyPushRebase(ctx, bundle)
	default:
		return Result{}, fmt.Errorf("pushrebase: unknown action %v", bundle.Action)
	}
}

// infinitePush writes to the scratch namespace: no hook evaluation, no
// fast-forward requirement, per §4.H. It does record mutations: the
// scratch/infinite-push path is exactly where amend/rebase mutation
// history accumulates in practice.
func (d *Dispatcher) infinitePush(ctx context.Context, bundle Bundle) error {
	if bundle.BookmarkPush.To == nil {
		return fmt.Errorf("pushrebase: infinite push requires a target")
	}
	if err := d.Mover.Store.set(ctx, bundle.BookmarkPush.Name, *bundle.BookmarkPush.To, PhaseDraft); err != nil {
		return err
	}
	return d.recordMutations(ctx, bundle.Mutations)
}

// pushRebase lands bundle.Bonsais onto the bookmark's current target
// via the configured local/remote strategy, then advances the
// bookmark to the new head and marks it public.
func (d *Dispatcher) pushRebase(ctx context.Context, bundle Bundle) (Result, error) {
	onto, err := d.Mover.Store.Current(ctx, bundle.BookmarkPush.Name)
	if err != nil {
		return Result{}, err
	}
	if onto == nil {
		return Result{}, fmt.Errorf("pushrebase: bookmark %q does not exist", bundle.BookmarkPush.Name)
	}

	change := BookmarkChange{BookmarkName: bundle.BookmarkPush.Name, From: onto, To: nil, Bonsais: bundle.Bonsais}
	if err := d.Mover.Pipeline.Run(ctx, change); err != nil {
		return Result{}, err
	}

	result, err := d.LandClient.Execute(ctx, bundle.BookmarkPush.Name, *onto, bundle.Bonsais)
	if err != nil {
		return Result{}, fmt.Errorf("pushrebase: land: %w", err)
	}

	if err := d.Mover.Store.set(ctx, bundle.BookmarkPush.Name, result.NewHead, PhasePublic); err != nil {
		return Result{}, err
	}
	return result, nil
}

// bookmarkOnlyPushRebase is the force-pushrebase action: it moves the
// bookmark straight to the requested target without rebasing, but
// still requires hook acceptance (§4.H).
func (d *Dispatcher) bookmarkOnlyPushRebase(ctx context.Context, bundle Bundle) (Result, error) {
	if bundle.BookmarkPush.To == nil {
		return Result{}, fmt.Errorf("pushrebase: bookmark-only pushrebase requires a target")
	}
	current, err := d.Mover.Store.Current(ctx, bundle.BookmarkPush.Name)
	if err != nil {
		return Result{}, err
	}
	change := BookmarkChange{BookmarkName: bundle.BookmarkPush.Name, From: current, To: bundle.BookmarkPush.To, Bonsais: bundle.Bonsais}
	if err := d.Mover.Pipeline.Run(ctx, change); err != nil {
		return Result{}, err
	}
	if err := d.Mover.Store.set(ctx, bundle.BookmarkPush.Name, *bundle.BookmarkPush.To, PhasePublic); err != nil {
		return Result{}, err
	}
	return Result{NewHead: *bundle.BookmarkPush.To}, nil
}
