package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/portfolio-league/league-engine/internal/app"
	"github.com/portfolio-league/league-engine/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	asJSON     bool
)

// rootCmd is the base command for the league admin CLI.
var rootCmd = &cobra.Command{
	Use:   "leaguectl",
	Short: "Portfolio league administration",
	Long: `leaguectl inspects and administers a portfolio league using the same
configuration as the server (TOML file, .env and LEAGUE_* variables).

Examples:
  leaguectl migrate up
  leaguectl status
  leaguectl leaderboard gw-12 --json
  leaguectl reset gw-12 --yes
  leaguectl export gw-11`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LEAGUE_CONFIG"), "path to a TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at info level")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration. Logging is kept to
// warnings unless --verbose is set, so command output stays readable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !verbose {
		cfg.LogLevel = "warn"
	}
	cfg.SetupLogging()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp wires the engine for one command. The scheduler is never started
// from the CLI.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
