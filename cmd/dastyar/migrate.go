package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/dastyar/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded PostgreSQL schema to database.url. The schema only
creates what is missing, so running it twice is safe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if cfg.Database.URL == "" {
			return errors.New("migrate: database.url is not configured")
		}

		pg, err := store.NewPGStore(cmd.Context(), cfg.Database)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer pg.Close()

		if err := pg.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}
