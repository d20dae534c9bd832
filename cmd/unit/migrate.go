package main

import (
	"fmt"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/spf13/cobra"
)

// migrateCmd ensures the documents table and its supporting indexes
// exist, without starting any long-running loop — useful as a
// deploy-time init step ahead of the first serve/worker process, and
// safe to re-run since EnsureSchema is idempotent.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "ensure the document store schema exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.OpenPool(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer pool.Close()
			if err := store.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return nil
		},
	}
}
