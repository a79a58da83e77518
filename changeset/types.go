// Package changeset implements the upload-session pipeline of spec.md
// §4.E: a client streams tree and file entries for one new changeset,
// the session tracks what is required versus what has actually
// arrived, and Finalize validates the set and emits filenode rows.
// Grounded on repo_attributes/repo_commit.rs for the session/required
// vs uploaded bookkeeping and on golang.org/x/sync/errgroup (already a
// teacher dependency) for the three-way finalize fan-in.
package changeset

import (
	"fmt"
	"strings"

	"github.com/scmcore/corestore/ids"
)

// RepoPath is a '/'-separated path within a manifest, root being "".
type RepoPath = string

// JoinRepoPath appends name under parent, the way process-one-entry
// derives a child's full path from its tree's path.
func JoinRepoPath(parent, name string) RepoPath {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// NodeKey identifies a prior version of an entry (a unode parent): a
// content-addressed id in the FileUnode or ManifestUnode domain.
type NodeKey = ids.ID

// Child is one entry in a tree's listing.
type Child struct {
	Name  string
	Entry ids.ID
}

// CopyInfo names the (path, node) a file entry was copied from.
type CopyInfo struct {
	Path RepoPath
	Node NodeKey
}

// Entry abstracts a tree or file object the client has uploaded.
// Concrete manifest/file representations live outside this package;
// the upload session only needs these six operations.
type Entry interface {
	ID() ids.ID
	IsTree() bool
	// Listing returns a tree entry's children. Error on a file entry.
	Listing() ([]Child, error)
	// Parents returns the unode parents of this entry (0, 1, or 2).
	Parents() ([]NodeKey, error)
	// Content returns the entry's raw bytes, used by copy-from
	// derivation for file entries.
	Content() []byte
	// ExplicitCopyFrom returns a caller-supplied copy-from annotation
	// when the ingestion pipeline already knows it, bypassing the
	// known-broken header convention (Design Notes "Known broken
	// copy-from derivation"). Returns nil when none is supplied.
	ExplicitCopyFrom() *CopyInfo
}

// FilenodeInfo is one emitted row: a file's position in history.
// Directories never get a FilenodeInfo (§4.E finalize step 3).
type FilenodeInfo struct {
	RepoID   int64
	Path     RepoPath
	Filenode NodeKey
	P1, P2   *NodeKey
	CopyFrom *CopyInfo
	Linknode NodeKey
}

func (f FilenodeInfo) String() string {
	return fmt.Sprintf("FilenodeInfo{path=%s filenode=%s linknode=%s}", f.Path, f.Filenode.Hex(), f.Linknode.Hex())
}

// copy-from header convention, the Go rendition of the classic
// Mercurial "extra metadata" envelope: a leading \x01\n...\x01\n block
// of "key: value" lines prepended to file content.
const copyHeaderMarker = "\x01\n"

func parseCopyHeader(content []byte) (path string, nodeHex string, ok bool) {
	s := string(content)
	if !strings.HasPrefix(s, copyHeaderMarker) {
		return "", "", false
	}
	rest := s[len(copyHeaderMarker):]
	end := strings.Index(rest, copyHeaderMarker)
	if end < 0 {
		return "", "", false
	}
	header := rest[:end]
	for _, line := range strings.Split(header, "\n") {
		if p, found := strings.CutPrefix(line, "copy: "); found {
			path = p
		}
		if n, found := strings.CutPrefix(line, "copyrev: "); found {
			nodeHex = n
		}
	}
	return path, nodeHex, path != "" && nodeHex != ""
}
