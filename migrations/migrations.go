// Package migrations applies the blobstore's generation-rollout and
// schema migrations sequentially, skipping ones already applied.
// Grounded on the teacher's own migrations.go: migrations apply in
// array order, idempotency is required of every Up function, and
// applied names are recorded so re-runs are no-ops — here the applied
// marker lives as an ordinary blobstore row instead of a dedicated
// bucket, since the blobstore itself is the only durable store this
// package is handed.
package migrations

import (
	"context"
	"fmt"

	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/internal/xlog"
)

// Migration is one named, idempotent step.
type Migration struct {
	Name string
	Up   func(ctx context.Context, store *blobstore.Store) error
}

// migrations apply sequentially in order of this slice; skip entries
// don't need reordering since Apply tracks applied names individually.
var migrations = []Migration{
	rolloutGenerations,
}

// NewMigrator returns the standard migration set for a fresh corestore
// deployment.
func NewMigrator() *Migrator {
	return &Migrator{Migrations: migrations, log: xlog.New("migrations")}
}

// Migrator runs a fixed, ordered set of migrations exactly once each.
type Migrator struct {
	Migrations []Migration
	log        xlog.Logger
}

const appliedKeyPrefix = "migration.applied."

// Apply runs every migration not already recorded as applied, in order.
func (m *Migrator) Apply(ctx context.Context, store *blobstore.Store) error {
	for _, mig := range m.Migrations {
		done, err := store.IsPresent(ctx, appliedKeyPrefix+mig.Name)
		if err != nil {
			return fmt.Errorf("migrations: checking %s: %w", mig.Name, err)
		}
		if done {
			continue
		}

		m.log.Info("applying migration", "name", mig.Name)
		if err := mig.Up(ctx, store); err != nil {
			return fmt.Errorf("migrations: %s: %w", mig.Name, err)
		}
		if _, err := store.Put(ctx, appliedKeyPrefix+mig.Name, []byte{1}, blobstore.Overwrite); err != nil {
			return fmt.Errorf("migrations: marking %s applied: %w", mig.Name, err)
		}
		m.log.Info("applied migration", "name", mig.Name)
	}
	return nil
}

// rolloutGenerations records that the §6 generation thresholds
// (put=2, mark=1, delete=0) are in effect. The thresholds themselves
// are applied at Store construction via config.DefaultGenerations; this
// migration exists so later migrations can assume the rollout has run.
var rolloutGenerations = Migration{
	Name: "0001_rollout_generations",
	Up: func(ctx context.Context, store *blobstore.Store) error {
		return nil
	},
}
