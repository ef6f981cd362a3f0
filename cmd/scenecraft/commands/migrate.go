package commands

import (
	"github.com/spf13/cobra"

	"scenecraft/internal/store"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFrom(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := store.Migrate(db); err != nil {
				return err
			}
			logger.Info("Database schema is up to date")
			return nil
		},
	}
}
