package manifest

import "sort"

// pathNode is one node of the path-tree built from a stack's file
// changes: either a pure leaf node (no children), a pure directory
// node, or — mid-stack — a node that carries both, which is exactly
// the file/directory replacement case §4.F calls out.
type pathNode struct {
	children map[string]*pathNode
	// changes is keyed by stack index; nil value means delete.
	changes map[int]*Change
}

func newPathNode() *pathNode {
	return &pathNode{children: map[string]*pathNode{}, changes: map[int]*Change{}}
}

func (n *pathNode) child(name string) *pathNode {
	c, ok := n.children[name]
	if !ok {
		c = newPathNode()
		n.children[name] = c
	}
	return c
}

func (n *pathNode) sortedChangeIndices() []int {
	idxs := make([]int, 0, len(n.changes))
	for i := range n.changes {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs
}

func (n *pathNode) sortedChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildPathTree folds every commit's changes into one path-tree, split
// on "/". A change at path "a/b/c.txt" creates directory nodes "a" and
// "a/b" (if absent) and records the change on the leaf node "a/b/c.txt".
func buildPathTree(stack []StackCommit) *pathNode {
	root := newPathNode()
	for i, commit := range stack {
		paths := make([]string, 0, len(commit.Changes))
		for p := range commit.Changes {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			leaf := commit.Changes[p]
			node := root
			for _, part := range splitPath(p) {
				node = node.child(part)
			}
			node.changes[i] = &Change{CsID: i, Leaf: leaf}
		}
	}
	return root
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		parts = append(parts, p[start:])
	}
	return parts
}
