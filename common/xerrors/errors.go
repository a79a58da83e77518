// Package xerrors implements the §7 error taxonomy: NotFound,
// Conflict, HookRejection, Retryable and Fatal are kinds, not concrete
// types, so any error can be tagged and later inspected with the As*
// helpers below. Modeled on the wrapping style turbo-geth's
// eth/stagedsync stages use (fmt.Errorf("...: %w", err)).
package xerrors

import (
	"errors"
	"fmt"
)

type kind int

const (
	kindNotFound kind = iota
	kindConflict
	kindHookRejection
	kindRetryable
	kindFatal
)

type tagged struct {
	k    kind
	err  error
	ctx  string
}

func (t *tagged) Error() string {
	if t.ctx == "" {
		return t.err.Error()
	}
	return fmt.Sprintf("%s: %s", t.ctx, t.err.Error())
}

func (t *tagged) Unwrap() error { return t.err }

// NotFound wraps err as a not-found condition: missing blob, missing
// changeset, missing mapping row. Never retried internally.
func NotFound(ctx string, err error) error { return &tagged{k: kindNotFound, err: err, ctx: ctx} }

// IsNotFound reports whether err (or anything it wraps) is NotFound.
func IsNotFound(err error) bool { return hasKind(err, kindNotFound) }

// Conflict wraps err as a conflicting-write condition (ConflictingEntries,
// bookmark-movement rejection).
func Conflict(ctx string, err error) error { return &tagged{k: kindConflict, err: err, ctx: ctx} }

func IsConflict(err error) bool { return hasKind(err, kindConflict) }

// HookRejection wraps a structured hook-rejection error. Always bypasses
// retry per §7.
func HookRejection(ctx string, err error) error {
	return &tagged{k: kindHookRejection, err: err, ctx: ctx}
}

func IsHookRejection(err error) bool { return hasKind(err, kindHookRejection) }

// Retryable wraps a transient error (known SQL error code, admission
// control, pushrebase race) eligible for capped-exponential backoff.
func Retryable(ctx string, err error) error { return &tagged{k: kindRetryable, err: err, ctx: ctx} }

func IsRetryable(err error) bool { return hasKind(err, kindRetryable) }

// Fatal wraps a programming-invariant violation. Never retried; the
// operation aborts.
func Fatal(ctx string, err error) error { return &tagged{k: kindFatal, err: err, ctx: ctx} }

func IsFatal(err error) bool { return hasKind(err, kindFatal) }

func hasKind(err error, k kind) bool {
	var t *tagged
	return errors.As(err, &t) && t.k == k
}
