package pushrebase

import (
	"context"
	"fmt"

	"github.com/scmcore/corestore/ids"
)

// BookmarkChange is what a hook inspects to decide whether a bookmark
// movement is acceptable.
type BookmarkChange struct {
	BookmarkName string
	From         *ids.ID
	To           *ids.ID
	Bonsais      []ids.ID
}

// Hook is one acceptance check in the pipeline. A non-nil error fails
// the whole movement; hooks run in registration order.
type Hook interface {
	Name() string
	Run(ctx context.Context, change BookmarkChange) error
}

// HookFunc adapts a plain function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, change BookmarkChange) error
}

func (h HookFunc) Name() string { return h.HookName }
func (h HookFunc) Run(ctx context.Context, change BookmarkChange) error {
	return h.Fn(ctx, change)
}

// Pipeline runs an ordered list of hooks, per §4.H "each transition
// runs the hook pipeline". Rejections are collected into one
// structured error rather than stopping at the first hook, so a
// caller can report every violation at once.
type Pipeline struct {
	Hooks []Hook
}

// Run evaluates every hook against change. A rejection is returned as
// *RejectionError; any other hook error is wrapped with the hook's
// name for context and returned immediately (it is not a rejection,
// per §4.H: "other errors are wrapped with context").
func (p Pipeline) Run(ctx context.Context, change BookmarkChange) error {
	var rejections []HookRejection
	for _, h := range p.Hooks {
		if err := h.Run(ctx, change); err != nil {
			if rej, ok := err.(*rejectionSignal); ok {
				rejections = append(rejections, HookRejection{Hook: h.Name(), Reason: rej.reason})
				continue
			}
			return fmt.Errorf("pushrebase: hook %q: %w", h.Name(), err)
		}
	}
	if len(rejections) > 0 {
		return &RejectionError{Rejections: rejections}
	}
	return nil
}

// HookRejection names one hook's rejection reason.
type HookRejection struct {
	Hook   string
	Reason string
}

// RejectionError is the structured list §4.H maps hook rejections to.
type RejectionError struct {
	Rejections []HookRejection
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("pushrebase: %d hook(s) rejected the change", len(e.Rejections))
}

// rejectionSignal is how a Hook reports a rejection (as opposed to an
// unrelated failure) without pushrebase needing to know hook
// internals: call Reject(reason) to build one.
type rejectionSignal struct{ reason string }

func (r *rejectionSignal) Error() string { return r.reason }

// Reject builds the error a Hook.Run should return to signal a
// rejection (mapped into the pipeline's structured list) rather than
// an operational failure (wrapped and returned as-is).
func Reject(reason string) error { return &rejectionSignal{reason: reason} }
