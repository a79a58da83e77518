// Package asyncqueue implements the async request queue of spec.md
// §4.G: enqueue/dequeue/complete/retry/poll over a durable SQL-backed
// queue table, with params and results stored content-addressed in
// the blobstore. Grounded on async_requests/queue.rs for the state
// machine and on eth/stagedsync's stage/poll idiom for the capped
// backoff loop.
package asyncqueue

import "fmt"

// State is a request's position in the New -> InProgress -> Ready ->
// Polled | Failed state machine. result_blobstore_key is non-null iff
// State is Ready or Polled.
type State string

const (
	StateNew        State = "new"
	StateInProgress State = "in_progress"
	StateReady      State = "ready"
	StatePolled     State = "polled"
	StateFailed     State = "failed"
)

// Token is what enqueue returns to the caller: enough to find the row
// again without re-running dispatch logic.
type Token struct {
	RowID       int64
	RequestType string
}

func (t Token) String() string { return fmt.Sprintf("%d/%s", t.RowID, t.RequestType) }

// Claim is what dequeue hands a worker: the claimed row id and its
// decoded params.
type Claim struct {
	RequestID   int64
	RequestType string
	RepoID      int64
	Params      []byte
}

// PollOutcome names which of Poll's two final outcomes occurred: the
// request became ready, or the poll timed out.
type PollOutcome int

const (
	PollReady PollOutcome = iota
	PollTimedOut
)

// PollResult is Poll's success value: either a ready result, or a
// report that the max duration elapsed without one.
type PollResult struct {
	Outcome PollOutcome
	Result  []byte
}
