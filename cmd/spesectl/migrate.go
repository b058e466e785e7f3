package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spese/internal/log"
	"spese/internal/storage"
)

// migrateCommand applies every pending schema migration.
func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrates database to the latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := storage.RunMigrations(a.cfg.SQLiteDBPath)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", a.cfg.SQLiteDBPath, err)
			}
			a.logger.Info("Database migrated",
				log.FieldOperation, log.OpMigrate,
				"path", a.cfg.SQLiteDBPath,
				"version", version)
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}
