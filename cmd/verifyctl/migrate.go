package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"studentverify/internal/platform/config"
	"studentverify/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(cmd, databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			version, err := postgres.Status(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres DSN (defaults to DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(cmd, databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := postgres.Status(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	})
	return cmd
}

func openDatabase(cmd *cobra.Command, databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		databaseURL = config.FromEnv().DatabaseURL
	}
	if databaseURL == "" {
		return nil, errors.New("no database configured: pass --database-url or set DATABASE_URL")
	}
	return postgres.Open(cmd.Context(), databaseURL)
}
