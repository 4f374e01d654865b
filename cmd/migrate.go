package cmd

import (
	"errors"

	"bounty-settlement-system/database"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if conf.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		db, err := database.Open(cmd.Context(), conf.DatabaseURL)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		return database.Migrate(db)
	},
}
