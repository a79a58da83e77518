package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/internal/config"
)

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.DefaultBlobstore([]string{"file:" + filepath.Join(dir, "shard0.db")})
	store, err := blobstore.NewStore(ctx, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	ran := 0
	m := NewMigrator()
	m.Migrations = []Migration{
		{Name: "count-runs", Up: func(ctx context.Context, s *blobstore.Store) error {
			ran++
			return nil
		}},
	}

	if err := m.Apply(ctx, store); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := m.Apply(ctx, store); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if ran != 1 {
		t.Fatalf("expected migration to run exactly once, ran %d times", ran)
	}
}
