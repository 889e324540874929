package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portfolio-league/league-engine/internal/store"
)

// migrateCmd is the parent command for schema migrations.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply, roll back or inspect the embedded schema migrations against
DATABASE_URL (or database.url in the config file).`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL()
		if err != nil {
			return err
		}
		if err := store.RunMigrations(url); err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL()
		if err != nil {
			return err
		}
		if err := store.RollbackMigrations(url); err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL()
		if err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func databaseURL() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", errors.New("no database configured: set DATABASE_URL")
	}
	return cfg.Database.URL, nil
}

func printVersion(cmd *cobra.Command, url string) error {
	version, dirty, err := store.MigrationVersion(url)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, map[string]any{"version": version, "dirty": dirty})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
