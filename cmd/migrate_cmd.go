package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kebairia/portalbackup/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the portal tables in the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, database.WithDebug(cfg.Database.Debug))
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("Schema migrated", "driver", cfg.Database.Driver)
		fmt.Println(color.GreenString("Migrated %d tables", len(database.Models())))
		return nil
	},
}
