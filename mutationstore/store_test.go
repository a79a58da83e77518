package mutationstore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), "file:"+filepath.Join(dir, "mutation.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAddAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := Entry{Succ: nodeOf(2), Preds: []Node{nodeOf(1)}, Op: "amend", User: "bob", Time: 100, Tz: 0}
	if err := st.Add(ctx, e); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := st.Get(ctx, nodeOf(2))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Op != "amend" || got.Preds[0] != nodeOf(1) {
		t.Fatalf("unexpected entry: %+v", got)
	}

	preds, err := st.GetPredecessors(ctx, nodeOf(2))
	if err != nil {
		t.Fatalf("get_predecessors: %v", err)
	}
	if len(preds) != 1 || preds[0] != nodeOf(1) {
		t.Fatalf("unexpected predecessors: %v", preds)
	}

	sets, err := st.GetSuccessorsSets(ctx, nodeOf(1))
	if err != nil {
		t.Fatalf("get_successors_sets: %v", err)
	}
	if len(sets) != 1 || len(sets[0]) != 1 || sets[0][0] != nodeOf(2) {
		t.Fatalf("unexpected successor sets: %v", sets)
	}
}

// TestFlushAutoExtension exercises the "P -> X durably, P -> Q and X ->
// Y pending implies a synthesized Q -> Y" rule from §4.D. P(5) -> X(1)
// is already durable. A later batch pends both P(5) -> Q(6) and X(1)
// -> Y(2) together; flushing that batch must synthesize 6 -> 2 with an
// "-copy" op suffix, alongside the direct 1 -> 2 edge.
func TestFlushAutoExtension(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// P(5) -> X(1), durable before the batch below.
	if err := st.Add(ctx, Entry{Succ: nodeOf(1), Preds: []Node{nodeOf(5)}, Op: "amend"}); err != nil {
		t.Fatalf("add p->x: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush durable edge: %v", err)
	}

	// P(5) -> Q(6) and X(1) -> Y(2), pending together.
	if err := st.Add(ctx, Entry{Succ: nodeOf(6), Preds: []Node{nodeOf(5)}, Op: "amend"}); err != nil {
		t.Fatalf("add p->q: %v", err)
	}
	if err := st.Add(ctx, Entry{Succ: nodeOf(2), Preds: []Node{nodeOf(1)}, Op: "rebase"}); err != nil {
		t.Fatalf("add x->y: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	sets, err := st.GetSuccessorsSets(ctx, nodeOf(6))
	if err != nil {
		t.Fatalf("get_successors_sets: %v", err)
	}
	foundSynthesized := false
	for _, set := range sets {
		for _, s := range set {
			if s == nodeOf(2) {
				foundSynthesized = true
			}
		}
	}
	if !foundSynthesized {
		t.Fatalf("expected synthesized 6 -> 2 edge, successors of 6: %v", sets)
	}
}

func TestGetDagAndHeads(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// 1 -> 2 -> 3, linear chain.
	if err := st.Add(ctx, Entry{Succ: nodeOf(2), Preds: []Node{nodeOf(1)}, Op: "amend"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Add(ctx, Entry{Succ: nodeOf(3), Preds: []Node{nodeOf(2)}, Op: "amend"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	dag, err := st.GetDag(ctx, []Node{nodeOf(1)}, FlagSuccessors)
	if err != nil {
		t.Fatalf("get_dag: %v", err)
	}
	heads := dag.Heads()
	if len(heads) != 1 || heads[0] != nodeOf(3) {
		t.Fatalf("expected sole head 3, got %v", heads)
	}
}

func TestGetDagBreaksCycles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// A -> B -> C -> A: a cyclic graph the store must still accept.
	if err := st.Add(ctx, Entry{Succ: nodeOf(2), Preds: []Node{nodeOf(1)}, Op: "rebase"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Add(ctx, Entry{Succ: nodeOf(3), Preds: []Node{nodeOf(2)}, Op: "rebase"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Add(ctx, Entry{Succ: nodeOf(1), Preds: []Node{nodeOf(3)}, Op: "rebase"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	dag, err := st.GetDag(ctx, []Node{nodeOf(1)}, FlagSuccessors|FlagPredecessors)
	if err != nil {
		t.Fatalf("get_dag: %v", err)
	}
	if len(dag.Vertices()) != 3 {
		t.Fatalf("expected 3 vertices, got %v", dag.Vertices())
	}
	// Some vertex must now have zero parents since one edge was dropped.
	foundRoot := false
	for _, v := range dag.Vertices() {
		if len(dag.Parents(v)) == 0 {
			foundRoot = true
		}
	}
	if !foundRoot {
		t.Fatalf("expected cycle-break to leave at least one rootless vertex")
	}
}

func TestCalculateObsolete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// draft 1 is amended into public 2: 1 should be obsoleted.
	if err := st.Add(ctx, Entry{Succ: nodeOf(2), Preds: []Node{nodeOf(1)}, Op: "amend"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	obsoleted, err := st.CalculateObsolete(ctx, []Node{nodeOf(2)}, []Node{nodeOf(1)})
	if err != nil {
		t.Fatalf("calculate_obsolete: %v", err)
	}
	if len(obsoleted) != 1 || obsoleted[0] != nodeOf(1) {
		t.Fatalf("expected [1] obsoleted, got %v", obsoleted)
	}
}
