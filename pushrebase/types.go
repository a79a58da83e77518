// Package pushrebase implements the bookmark-movement and pushrebase
// dispatch of spec.md §4.H: plain bookmark pushes, server-side
// pushrebase (local or delegated to a remote land service), force
// pushrebase, and infinite (scratch) push. Grounded on
// repo_client/unbundle/processing.rs for the four-way dispatch and on
// ethdb/remote's generated grpc client shape for the land-service
// client.
package pushrebase

import (
	"fmt"

	"github.com/scmcore/corestore/ids"
	"github.com/scmcore/corestore/mutationstore"
)

// Action is the client bundle's dispatched intent.
type Action int

const (
	ActionPush Action = iota
	ActionInfinitePush
	ActionPushRebase
	ActionBookmarkOnlyPushRebase
)

func (a Action) String() string {
	switch a {
	case ActionPush:
		return "push"
	case ActionInfinitePush:
		return "infinite_push"
	case ActionPushRebase:
		return "pushrebase"
	case ActionBookmarkOnlyPushRebase:
		return "bookmark_only_pushrebase"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// BookmarkPush names the (from, to) transition a bundle asks for. A
// nil From means "bookmark must not already exist"; a nil To means
// delete.
type BookmarkPush struct {
	Name string
	From *ids.ID
	To   *ids.ID
}

// Bundle is everything a client upload carries that pushrebase needs
// to dispatch on, per §4.H.
type Bundle struct {
	Action       Action
	Bonsais      []ids.ID
	Mutations    []mutationstore.Entry
	BookmarkPush BookmarkPush
	// AllowNonFastForward permits a (Some(old), Some(new)) plain push
	// to move the bookmark to a target that is not a descendant of
	// old, bypassing the default FastForwardOnly policy.
	AllowNonFastForward bool
}

// Rewrite records one bonsai's id before and after a pushrebase
// rewrite onto the current bookmark target.
type Rewrite struct {
	OldID ids.ID
	NewID ids.ID
}

// Result is a successful pushrebase's outcome.
type Result struct {
	NewHead   ids.ID
	Rewritten []Rewrite
}
