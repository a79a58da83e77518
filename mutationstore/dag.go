package mutationstore

import (
	"context"
	"fmt"
	"sort"
)

// DagFlags selects which direction GetDag expands the frontier in,
// mirroring the original's bitflags::DagFlags.
type DagFlags uint8

const (
	FlagSuccessors DagFlags = 1 << iota
	FlagPredecessors
)

// Dag is the purely in-memory, non-blocking connected component
// returned by GetDag: a cycle-broken projection of the mutation log
// restricted to whatever vertices were reachable from the seed nodes.
// "Parent" here always means predecessor, matching the mutation-graph
// sense used by Heads/CalculateObsolete, not a file/tree hierarchy.
type Dag struct {
	vertices []Node
	parents  map[Node][]Node // cycle-broken: v -> v's predecessors
	children map[Node][]Node // inverse of parents
}

// GetDag returns the connected component containing nodes, traversing
// predecessors and/or successors per flags, per §4.D. The raw edges
// discovered may contain cycles (the store accepts cyclic input); a
// deterministic DFS pass drops the highest-ordered back-edge in every
// detected cycle so the same log always yields the same acyclic
// projection.
func (s *Store) GetDag(ctx context.Context, nodes []Node, flags DagFlags) (*Dag, error) {
	visited := map[Node]bool{}
	rawParents := map[Node][]Node{}
	var queue []Node
	for _, n := range nodes {
		if !visited[n] {
			visited[n] = true
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		preds, err := s.GetPredecessors(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("mutationstore: get_dag: %w", err)
		}
		rawParents[v] = preds

		if flags&FlagPredecessors != 0 {
			for _, p := range preds {
				if !visited[p] {
					visited[p] = true
					queue = append(queue, p)
				}
			}
		}
		if flags&FlagSuccessors != 0 {
			sets, err := s.GetSuccessorsSets(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("mutationstore: get_dag: %w", err)
			}
			for _, set := range sets {
				for _, succ := range set {
					if !visited[succ] {
						visited[succ] = true
						queue = append(queue, succ)
					}
				}
			}
		}
	}

	vertices := make([]Node, 0, len(visited))
	for v := range visited {
		vertices = append(vertices, v)
	}
	sortNodes(vertices)
	for _, ps := range rawParents {
		sortNodes(ps)
	}

	d := &Dag{
		vertices: vertices,
		parents:  breakCycles(vertices, rawParents),
		children: map[Node][]Node{},
	}
	for v, ps := range d.parents {
		for _, p := range ps {
			d.children[p] = append(d.children[p], v)
		}
	}
	return d, nil
}

func sortNodes(ns []Node) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Hex() < ns[j].Hex() })
}

// breakCycles runs a deterministic DFS over vertices (in their fixed
// arena order) and drops any parent edge pointing back at a vertex
// still on the recursion stack, per §4.D's "drop the highest-ordered
// back-edge per detected cycle" instruction — processing vertices and
// their parent lists in sorted order makes "highest-ordered" simply
// "last one reached by this deterministic walk".
func breakCycles(order []Node, rawParents map[Node][]Node) map[Node][]Node {
	const (
		white = iota
		gray
		black
	)
	color := make(map[Node]int, len(order))
	result := make(map[Node][]Node, len(order))

	var visit func(v Node)
	visit = func(v Node) {
		color[v] = gray
		for _, p := range rawParents[v] {
			switch color[p] {
			case gray:
				continue // back edge: drop it
			case black:
				result[v] = append(result[v], p)
			default:
				result[v] = append(result[v], p)
				visit(p)
			}
		}
		color[v] = black
	}

	for _, v := range order {
		if color[v] == white {
			visit(v)
		}
	}
	return result
}

// Vertices returns every vertex in the connected component, sorted.
func (d *Dag) Vertices() []Node { return append([]Node{}, d.vertices...) }

// Parents returns the one-hop predecessors of v within the dag.
func (d *Dag) Parents(v Node) []Node { return append([]Node{}, d.parents[v]...) }

// ParentsOf unions the one-hop predecessors of every vertex in set.
func (d *Dag) ParentsOf(set []Node) []Node {
	seen := map[Node]bool{}
	var out []Node
	for _, v := range set {
		for _, p := range d.parents[v] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sortNodes(out)
	return out
}

// AncestorsInclusive returns set unioned with the transitive closure of
// every vertex's parents, matching the "ancestors(X)" convention used
// by §4.D's obsolete-set formula (inclusive of the starting set).
func (d *Dag) AncestorsInclusive(set []Node) []Node {
	seen := map[Node]bool{}
	var out []Node
	var walk func(v Node)
	walk = func(v Node) {
		if seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
		for _, p := range d.parents[v] {
			walk(p)
		}
	}
	for _, v := range set {
		walk(v)
	}
	sortNodes(out)
	return out
}

// Heads returns vertices with no recorded successor inside the
// component: connected minus every vertex that appears as someone
// else's parent.
func (d *Dag) Heads() []Node {
	nonHeads := map[Node]bool{}
	for _, ps := range d.parents {
		for _, p := range ps {
			nonHeads[p] = true
		}
	}
	var heads []Node
	for _, v := range d.vertices {
		if !nonHeads[v] {
			heads = append(heads, v)
		}
	}
	return heads
}

// intersect returns the sorted intersection of two node slices.
func intersect(a, b []Node) []Node {
	set := make(map[Node]bool, len(b))
	for _, n := range b {
		set[n] = true
	}
	var out []Node
	for _, n := range a {
		if set[n] {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// CalculateObsolete computes, per §4.D:
//
//	obsdag    = successor-only graph over draft
//	obsall    = obsdag.all() ∩ (public ∪ draft)
//	obsvis    = ancestors(obsall) within obsdag
//	obsoleted = parents(obsvis) within obsdag
//	return draft ∩ obsoleted
func (s *Store) CalculateObsolete(ctx context.Context, public, draft []Node) ([]Node, error) {
	obsdag, err := s.GetDag(ctx, draft, FlagSuccessors)
	if err != nil {
		return nil, fmt.Errorf("mutationstore: calculate_obsolete: %w", err)
	}

	visible := append(append([]Node{}, public...), draft...)
	obsall := intersect(obsdag.Vertices(), visible)
	obsvis := obsdag.AncestorsInclusive(obsall)
	obsoleted := obsdag.ParentsOf(obsvis)
	return intersect(draft, obsoleted), nil
}
