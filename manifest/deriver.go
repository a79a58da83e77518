package manifest

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/scmcore/corestore/ids"
)

// MaxInFlightNodes bounds how many path-tree nodes may be mid-derive
// at once (§4.F: "breadth-bounded to 256 in-flight nodes").
const MaxInFlightNodes = 256

// emission records that a node's resolved entry changed at a given
// stack index; a nil Entry means the node became absent (deleted, or
// an empty directory below the root).
type emission struct {
	Index int
	Entry *Entry
}

// Deriver walks a stack's path-tree and emits one tree id per commit.
// CreateTree and CreateLeaf are supplied by the caller (normally
// backed by the blobstore and unode stores), so the deriver itself
// stays storage-agnostic.
type Deriver struct {
	CreateTree CreateTreeFunc
	CreateLeaf CreateLeafFunc

	sem chan struct{}
}

// NewDeriver builds a Deriver bounded to MaxInFlightNodes concurrent
// node derivations.
func NewDeriver(createTree CreateTreeFunc, createLeaf CreateLeafFunc) *Deriver {
	return &Deriver{
		CreateTree: createTree,
		CreateLeaf: createLeaf,
		sem:        make(chan struct{}, MaxInFlightNodes),
	}
}

// DeriveStack runs the unfold/fold traversal over stack and returns
// one tree id per input commit, in stack order.
func (d *Deriver) DeriveStack(ctx context.Context, stack []StackCommit) (map[ids.ID]ids.ID, error) {
	root := buildPathTree(stack)
	emissions, err := d.deriveRoot(ctx, root, stack)
	if err != nil {
		return nil, err
	}

	result := make(map[ids.ID]ids.ID, len(stack))
	var current *Entry
	emitIdx := 0
	for i, commit := range stack {
		for emitIdx < len(emissions) && emissions[emitIdx].Index == i {
			current = emissions[emitIdx].Entry
			emitIdx++
		}
		if current == nil || !current.IsTree {
			return nil, fmt.Errorf("manifest: commit %d (%s) has no root tree", i, commit.CsID.Hex())
		}
		result[commit.CsID] = current.ID
	}
	return result, nil
}

// acquire/release implement the in-flight node cap. Acquiring before
// recursing into children means a wide directory's fan-out blocks
// additional siblings rather than spawning unboundedly.
func (d *Deriver) acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Deriver) release() { <-d.sem }

// deriveNode returns the sorted, deduplicated emission list for node
// at path: every stack index at which node's resolved entry actually
// changed. Children are derived first and concurrently (bounded by
// d.sem), since a directory's own emissions depend on its children's.
func (d *Deriver) deriveNode(ctx context.Context, node *pathNode, path string, stack []StackCommit) ([]emission, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	if len(node.children) == 0 {
		return d.deriveLeafOnly(ctx, node, path, stack)
	}
	return d.deriveDirectory(ctx, node, path, stack)
}

// deriveRoot is deriveNode specialized for the tree root: the root is
// always a directory, even with no children and no changes (the
// empty-commit edge case of §4.F), so it never takes the leaf-only
// path.
func (d *Deriver) deriveRoot(ctx context.Context, root *pathNode, stack []StackCommit) ([]emission, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()
	return d.deriveDirectory(ctx, root, "", stack)
}

// deriveLeafOnly handles a node that never hosted a subdirectory:
// every change is either a create/modify (emit a leaf) or a delete
// (emit absence).
func (d *Deriver) deriveLeafOnly(ctx context.Context, node *pathNode, path string, stack []StackCommit) ([]emission, error) {
	var out []emission
	for _, i := range node.sortedChangeIndices() {
		ch := node.changes[i]
		if ch.Leaf == nil {
			out = append(out, emission{Index: i, Entry: nil})
			continue
		}
		leafID, err := d.CreateLeaf(ctx, LeafInfo{Path: path, ContentID: *ch.Leaf}, stack[i].CsID)
		if err != nil {
			return nil, fmt.Errorf("manifest: create leaf %q at commit %d: %w", path, i, err)
		}
		out = append(out, emission{Index: i, Entry: &Entry{IsTree: false, ID: leafID}})
	}
	return out, nil
}

// deriveDirectory handles a node with live children, possibly
// interleaved with its own leaf changes (the file/directory
// replacement special case). At every stack index where something
// changed — this node's own entry, or any child's — it recomputes the
// directory's subentries and, unless this is an explicit leaf
// override, re-derives the tree.
func (d *Deriver) deriveDirectory(ctx context.Context, node *pathNode, path string, stack []StackCommit) ([]emission, error) {
	names := node.sortedChildNames()
	childEmissions := make(map[string][]emission, len(names))

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]emission, len(names))
	for idx, name := range names {
		idx, name := idx, name
		g.Go(func() error {
			childPath := name
			if path != "" {
				childPath = path + "/" + name
			}
			em, err := d.deriveNode(gctx, node.children[name], childPath, stack)
			if err != nil {
				return err
			}
			results[idx] = em
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for idx, name := range names {
		childEmissions[name] = results[idx]
	}

	// File-replaced-by-directory is the only legal multi-kind change at
	// a single path, and only when the deletion precedes every
	// subentry here (§4.F). A child emission before the deletion means
	// this node was already a directory when the "delete" landed, which
	// the single-commit derive function never allows.
	if len(names) > 0 {
		for _, i := range node.sortedChangeIndices() {
			if node.changes[i].Leaf != nil {
				continue
			}
			for _, name := range names {
				for _, e := range childEmissions[name] {
					if e.Index < i {
						return nil, fmt.Errorf("manifest: unexpected file deletion of %q in %s", path, stack[i].CsID.Hex())
					}
				}
			}
		}
	}

	triggers := map[int]struct{}{}
	if path == "" && len(stack) > 0 {
		// The root must resolve to a tree at every commit, including
		// the very first, even when that commit touches nothing here.
		triggers[0] = struct{}{}
	}
	for i := range node.changes {
		triggers[i] = struct{}{}
	}
	for _, ems := range childEmissions {
		for _, e := range ems {
			triggers[e.Index] = struct{}{}
		}
	}
	sortedTriggers := make([]int, 0, len(triggers))
	for i := range triggers {
		sortedTriggers = append(sortedTriggers, i)
	}
	sort.Ints(sortedTriggers)

	childCursor := make(map[string]int, len(names))
	childCurrent := make(map[string]*Entry, len(names))

	var out []emission
	for _, i := range sortedTriggers {
		for _, name := range names {
			ems := childEmissions[name]
			cur := childCursor[name]
			for cur < len(ems) && ems[cur].Index <= i {
				childCurrent[name] = ems[cur].Entry
				cur++
			}
			childCursor[name] = cur
		}

		var subentries []ChildEntry
		for _, name := range names {
			if e := childCurrent[name]; e != nil {
				subentries = append(subentries, ChildEntry{Name: name, Entry: *e})
			}
		}
		sort.Slice(subentries, func(a, b int) bool { return subentries[a].Name < subentries[b].Name })

		var treeCandidate *Entry
		if len(subentries) > 0 || path == "" {
			treeID, err := d.CreateTree(ctx, TreeInfo{Path: path, Subentries: subentries}, stack[i].CsID)
			if err != nil {
				return nil, fmt.Errorf("manifest: create tree %q at commit %d: %w", path, i, err)
			}
			treeCandidate = &Entry{IsTree: true, ID: treeID}
		}

		own, hasOwn := node.changes[i]
		var resolved *Entry
		switch {
		case hasOwn && own.Leaf != nil:
			// A file change at a path that is currently a directory:
			// the leaf wins, implicitly deleting the directory (§4.F).
			leafID, err := d.CreateLeaf(ctx, LeafInfo{Path: path, ContentID: *own.Leaf}, stack[i].CsID)
			if err != nil {
				return nil, fmt.Errorf("manifest: create leaf %q at commit %d: %w", path, i, err)
			}
			resolved = &Entry{IsTree: false, ID: leafID}
		default:
			// Either no own change, or an explicit delete of a leaf
			// that was never actually the live entry here (a no-change
			// tree rebuild, per §4.F's fold rule).
			resolved = treeCandidate
		}
		out = append(out, emission{Index: i, Entry: resolved})
	}
	return out, nil
}
