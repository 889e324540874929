package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var resetConfirmed bool

// resetCmd deletes every submission of a period.
var resetCmd = &cobra.Command{
	Use:   "reset <period-id>",
	Short: "Delete every submission of a period",
	Long: `Delete every submission of a period. Participants may submit again
while the period is active. This cannot be undone.

Example:
  leaguectl reset gw-12 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

// exportCmd writes the final standings of a completed period to S3.
var exportCmd = &cobra.Command{
	Use:   "export <period-id>",
	Short: "Archive the final standings of a completed period",
	Long: `Write the final leaderboard of a completed period to the configured S3
bucket. The server does this automatically on rollover; use this command
to backfill or repeat an export.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(resetCmd, exportCmd)
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm the reset")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirmed {
		return errors.New("refusing to reset without --yes")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Clock.Lookup(args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := a.Ledger.ResetPeriod(ctx, p.ID)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, map[string]any{"period_id": p.ID, "removed": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d submissions from %s\n", n, p.ID)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Exporter == nil {
		return errors.New("archive is disabled: set LEAGUE_ARCHIVE_ENABLED and LEAGUE_S3_BUCKET")
	}
	key, err := a.Exporter.Export(ctx, args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, map[string]any{"period_id": args[0], "key": key})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s to s3://%s/%s\n", args[0], a.Config.Archive.Bucket, key)
	return nil
}
