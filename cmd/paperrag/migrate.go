package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/app"
	"github.com/dshills/paperrag/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database schema commands",
	Long:  `Opening the database applies pending migrations; these commands inspect or revert them.`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStorage(cmd, func(store *storage.SQLiteStorage) error {
			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("schema version %s (latest %s)\n", v, storage.CurrentSchemaVersion)
			return nil
		})
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStorage(cmd, func(store *storage.SQLiteStorage) error {
			if err := store.RollbackMigration(cmd.Context()); err != nil {
				return err
			}
			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("rolled back to schema version %s\n", v)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withStorage(cmd *cobra.Command, fn func(*storage.SQLiteStorage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}
