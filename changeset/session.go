package changeset

import (
	"context"
	"fmt"
	"sync"

	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/ids"
)

// Session is the per-upload-session state of §4.E: which entries the
// session has learned are required, which have actually arrived, and
// which unode parents must exist in the blobstore before this
// changeset can be finalized. All mutation is guarded by mu.
type Session struct {
	RepoID    int64
	Blobstore *blobstore.Store

	// UseExplicitCopyFrom prefers Entry.ExplicitCopyFrom over the
	// known-broken header convention, per the Design Notes.
	UseExplicitCopyFrom bool

	mu              sync.Mutex
	requiredEntries map[RepoPath]ids.ID
	uploadedEntries map[RepoPath]Entry
	parents         map[NodeKey]struct{}
}

// NewSession starts a fresh upload session against store for repoID.
func NewSession(repoID int64, store *blobstore.Store) *Session {
	return &Session{
		RepoID:          repoID,
		Blobstore:       store,
		requiredEntries: map[RepoPath]ids.ID{},
		uploadedEntries: map[RepoPath]Entry{},
		parents:         map[NodeKey]struct{}{},
	}
}

// ProcessRootManifest validates that entry is a tree, records it as
// required at path, then applies ProcessOneEntry. Repeated calls are
// permitted; every manifest passed this way is (re-)treated as
// required, per §4.E.
func (s *Session) ProcessRootManifest(ctx context.Context, entry Entry, path RepoPath) error {
	if !entry.IsTree() {
		return fmt.Errorf("changeset: root manifest at %q is not a tree", path)
	}
	s.mu.Lock()
	s.requiredEntries[path] = entry.ID()
	s.mu.Unlock()
	return s.ProcessOneEntry(ctx, entry, path)
}

// ProcessOneEntry records entry as uploaded at path. For a tree, every
// child becomes required at its joined path; for a file, there are no
// children. Either way the entry's own unode parents are folded into
// the session's parents set.
func (s *Session) ProcessOneEntry(ctx context.Context, entry Entry, path RepoPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadedEntries[path] = entry

	if entry.IsTree() {
		children, err := entry.Listing()
		if err != nil {
			return fmt.Errorf("changeset: listing %q: %w", path, err)
		}
		for _, c := range children {
			s.requiredEntries[JoinRepoPath(path, c.Name)] = c.Entry
		}
	}

	parents, err := entry.Parents()
	if err != nil {
		return fmt.Errorf("changeset: parents of %q: %w", path, err)
	}
	for _, p := range parents {
		s.parents[p] = struct{}{}
	}
	return nil
}

// snapshot copies the session's maps under lock, so Finalize's fan-out
// goroutines can range over them without holding the session mutex for
// the duration of (potentially slow) blobstore calls.
func (s *Session) snapshot() (required map[RepoPath]ids.ID, uploaded map[RepoPath]Entry, parents []NodeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	required = make(map[RepoPath]ids.ID, len(s.requiredEntries))
	for k, v := range s.requiredEntries {
		required[k] = v
	}
	uploaded = make(map[RepoPath]Entry, len(s.uploadedEntries))
	for k, v := range s.uploadedEntries {
		uploaded[k] = v
	}
	for p := range s.parents {
		parents = append(parents, p)
	}
	return
}

// RequiredMissingError lists required entries never uploaded and
// absent from the blobstore — a Finalize failure per §4.E.
type RequiredMissingError struct {
	Paths []RepoPath
}

func (e *RequiredMissingError) Error() string {
	return fmt.Sprintf("changeset: %d required entries missing: %v", len(e.Paths), e.Paths)
}

// ParentsMissingError lists unode parents absent from the blobstore.
type ParentsMissingError struct {
	Nodes []NodeKey
}

func (e *ParentsMissingError) Error() string {
	return fmt.Sprintf("changeset: %d parent entries missing from blobstore", len(e.Nodes))
}
