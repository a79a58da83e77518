package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/internal/config"
	"github.com/scmcore/corestore/internal/xlog"
	"github.com/scmcore/corestore/migrations"
)

var migrateShardDSNs []string

func init() {
	migrateCmd.Flags().StringArrayVar(&migrateShardDSNs, "shard", nil, "blobstore shard DSN (repeatable)")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the blobstore's generation-rollout migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func runMigrate(ctx context.Context) error {
	log := xlog.New("cmd.migrate")
	if len(migrateShardDSNs) == 0 {
		migrateShardDSNs = []string{"corestore.sqlite"}
	}

	blobs, err := blobstore.NewStore(ctx, config.DefaultBlobstore(migrateShardDSNs))
	if err != nil {
		return fmt.Errorf("corestore migrate: open blobstore: %w", err)
	}
	defer blobs.Close()

	m := migrations.NewMigrator()
	if err := m.Apply(ctx, blobs); err != nil {
		return fmt.Errorf("corestore migrate: %w", err)
	}
	log.Info("migrations applied")
	return nil
}
