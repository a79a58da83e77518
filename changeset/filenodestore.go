package changeset

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// FilenodeStore persists FilenodeInfo rows, unique per
// (repo, path, filenode) so AddFilenodes is idempotent under retry,
// per §4.E's failure semantics.
type FilenodeStore struct {
	db *sql.DB
}

// OpenFilenodeStore opens (and migrates) a filenode store at dsn.
func OpenFilenodeStore(ctx context.Context, dsn string) (*FilenodeStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("changeset: open filenode store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS filenodes (
			repo_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			filenode TEXT NOT NULL,
			p1 TEXT,
			p2 TEXT,
			copy_from_path TEXT,
			copy_from_node TEXT,
			linknode TEXT NOT NULL,
			PRIMARY KEY (repo_id, path, filenode)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("changeset: migrate filenode store: %w", err)
	}
	return &FilenodeStore{db: db}, nil
}

func (s *FilenodeStore) Close() error { return s.db.Close() }

// AddFilenodes inserts rows, skipping ones already present so repeated
// calls with the same inputs are no-ops (§4.E, §8 idempotence law).
func (s *FilenodeStore) AddFilenodes(ctx context.Context, rows []FilenodeInfo) error {
	for _, r := range rows {
		var p1, p2, copyPath, copyNode sql.NullString
		if r.P1 != nil {
			p1 = sql.NullString{String: r.P1.Hex(), Valid: true}
		}
		if r.P2 != nil {
			p2 = sql.NullString{String: r.P2.Hex(), Valid: true}
		}
		if r.CopyFrom != nil {
			copyPath = sql.NullString{String: r.CopyFrom.Path, Valid: true}
			copyNode = sql.NullString{String: r.CopyFrom.Node.Hex(), Valid: true}
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO filenodes (repo_id, path, filenode, p1, p2, copy_from_path, copy_from_node, linknode)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo_id, path, filenode) DO NOTHING`,
			r.RepoID, r.Path, r.Filenode.Hex(), p1, p2, copyPath, copyNode, r.Linknode.Hex()); err != nil {
			return fmt.Errorf("changeset: add filenode %q: %w", r.Path, err)
		}
	}
	return nil
}

// CountByLinknode returns how many filenode rows carry linknode,
// exercised by TestFinalizeEmitsFilenodeForUploadedFile (§8 law 5).
func (s *FilenodeStore) CountByLinknode(ctx context.Context, repoID int64, linknode NodeKey) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM filenodes WHERE repo_id = ? AND linknode = ?`,
		repoID, linknode.Hex()).Scan(&n)
	return n, err
}
