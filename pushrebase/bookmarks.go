package pushrebase

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scmcore/corestore/common/xerrors"
	"github.com/scmcore/corestore/ids"
)

// Phase is a changeset's visibility, per §4.C's public/draft
// distinction; pushrebase marks a rebased head public on success.
type Phase string

const (
	PhasePublic Phase = "public"
	PhaseDraft  Phase = "draft"
)

// BookmarkStore is the durable current-state table: one row per
// bookmark name, naming the changeset it points at and that
// changeset's phase.
type BookmarkStore struct {
	db *sql.DB
}

// OpenBookmarkStore opens (and migrates) a bookmark store at dsn.
func OpenBookmarkStore(ctx context.Context, dsn string) (*BookmarkStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("pushrebase: open bookmark store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bookmarks (
			name TEXT PRIMARY KEY,
			changeset TEXT NOT NULL,
			phase TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pushrebase: migrate bookmark store: %w", err)
	}
	return &BookmarkStore{db: db}, nil
}

func (s *BookmarkStore) Close() error { return s.db.Close() }

// Current returns the changeset a bookmark points at, or (nil, nil)
// if it does not exist.
func (s *BookmarkStore) Current(ctx context.Context, name string) (*ids.ID, error) {
	var hex string
	err := s.db.QueryRowContext(ctx, `SELECT changeset FROM bookmarks WHERE name = ?`, name).Scan(&hex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pushrebase: read bookmark %q: %w", name, err)
	}
	id, err := ids.ParseBlobstoreKey(hex)
	if err != nil {
		return nil, fmt.Errorf("pushrebase: decode bookmark %q: %w", name, err)
	}
	return &id, nil
}

func (s *BookmarkStore) set(ctx context.Context, name string, id ids.ID, phase Phase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (name, changeset, phase) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET changeset = excluded.changeset, phase = excluded.phase`,
		name, id.BlobstoreKey(), phase)
	if err != nil {
		return fmt.Errorf("pushrebase: set bookmark %q: %w", name, err)
	}
	return nil
}

func (s *BookmarkStore) delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("pushrebase: delete bookmark %q: %w", name, err)
	}
	return nil
}

// IsAncestorFunc decides fast-forward eligibility: whether ancestor is
// reachable from descendant by following changeset parent edges. Bound
// movement logic to the caller's changeset-graph reader rather than
// this package reimplementing one.
type IsAncestorFunc func(ctx context.Context, ancestor, descendant ids.ID) (bool, error)

// Mover runs the plain-push bookmark transitions of §4.H, each guarded
// by a hook pipeline evaluation.
type Mover struct {
	Store      *BookmarkStore
	Pipeline   Pipeline
	IsAncestor IsAncestorFunc
}

// Move applies push.From -> push.To to the named bookmark, running the
// hook pipeline first. allowNonFastForward bypasses the fast-forward
// check on a (Some(old), Some(new)) update. The repository store lock
// (§5) is the caller's responsibility; Move itself does one
// read-then-write with no cross-shard transaction.
func (m *Mover) Move(ctx context.Context, push BookmarkPush, bonsais []ids.ID, allowNonFastForward bool) error {
	current, err := m.Store.Current(ctx, push.Name)
	if err != nil {
		return err
	}
	if err := m.checkPrecondition(ctx, current, push, allowNonFastForward); err != nil {
		return err
	}

	change := BookmarkChange{BookmarkName: push.Name, From: push.From, To: push.To, Bonsais: bonsais}
	if err := m.Pipeline.Run(ctx, change); err != nil {
		return err
	}

	if push.To == nil {
		return m.Store.delete(ctx, push.Name)
	}
	return m.Store.set(ctx, push.Name, *push.To, PhasePublic)
}

// checkPrecondition enforces the three transitions named in §4.H:
// create fails if the bookmark already exists; update requires
// fast-forward unless explicitly overridden; delete requires the
// caller's observed From to match.
func (m *Mover) checkPrecondition(ctx context.Context, current *ids.ID, push BookmarkPush, allowNonFastForward bool) error {
	switch {
	case push.From == nil && push.To != nil:
		if current != nil {
			return xerrors.Conflict("pushrebase", fmt.Errorf("bookmark %q already exists", push.Name))
		}
		return nil
	case push.From != nil && push.To != nil:
		if current == nil || *current != *push.From {
			return xerrors.Conflict("pushrebase", fmt.Errorf("bookmark %q moved since the client observed it", push.Name))
		}
		return m.checkFastForward(ctx, push, allowNonFastForward)
	case push.From != nil && push.To == nil:
		if current == nil || *current != *push.From {
			return xerrors.Conflict("pushrebase", fmt.Errorf("bookmark %q moved since the client observed it", push.Name))
		}
		return nil
	default:
		return fmt.Errorf("pushrebase: bookmark push for %q has neither From nor To", push.Name)
	}
}

func (m *Mover) checkFastForward(ctx context.Context, push BookmarkPush, allowNonFastForward bool) error {
	if allowNonFastForward {
		return nil
	}
	if m.IsAncestor == nil {
		return nil
	}
	ok, err := m.IsAncestor(ctx, *push.From, *push.To)
	if err != nil {
		return fmt.Errorf("pushrebase: fast-forward check for %q: %w", push.Name, err)
	}
	if !ok {
		return xerrors.Conflict("pushrebase", fmt.Errorf("bookmark %q: non-fast-forward move rejected", push.Name))
	}
	return nil
}
