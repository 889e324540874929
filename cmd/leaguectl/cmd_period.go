package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
)

var cmdTimeout time.Duration

// statusCmd prints a period's window, status and participant count.
var statusCmd = &cobra.Command{
	Use:   "status [period-id]",
	Short: "Show the status of a period (default: current)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

// leaderboardCmd prints a period's ranking.
var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard [period-id]",
	Short: "Rank a period (default: current)",
	Long: `Rank every submission of a period against current prices, or against
the prices at the period end once it has completed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLeaderboard,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 30*time.Second, "timeout for the whole command")
	rootCmd.AddCommand(statusCmd, leaderboardCmd)
}

func periodArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return period.CurrentAlias
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()
	p, err := a.Clock.Lookup(periodArg(args), now)
	if err != nil {
		return err
	}
	n, err := a.Ledger.Count(ctx, p.ID)
	if err != nil {
		return err
	}
	status := p.Status(now)

	if asJSON {
		return printJSON(cmd, map[string]any{
			"period":       p,
			"status":       status,
			"participants": n,
		})
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Period:\t%s\n", p.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", status)
	fmt.Fprintf(tw, "Window:\t%s .. %s\n", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	fmt.Fprintf(tw, "Participants:\t%d\n", n)
	fmt.Fprintf(tw, "Prize pool:\t%s (top %s)\n", p.PrizePool, p.PayoutFraction)
	switch status {
	case model.StatusActive:
		fmt.Fprintf(tw, "Ends in:\t%s\n", p.End.Sub(now).Truncate(time.Second))
	case model.StatusUpcoming:
		fmt.Fprintf(tw, "Starts in:\t%s\n", p.Start.Sub(now).Truncate(time.Second))
	}
	return tw.Flush()
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	board, err := a.Ranking.Rank(ctx, periodArg(args))
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, board)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s), %d participants, evaluated at %s\n\n",
		board.Period.ID, board.Status, board.TotalParticipants, board.EvaluatedAt.Format(time.RFC3339))
	if len(board.Rows) == 0 {
		fmt.Fprintln(out, "no submissions")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tPARTICIPANT\tRETURN %\tPRIZE\t")
	for _, row := range board.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", row.Rank, row.Participant, row.ReturnPct.StringFixed(4), row.Prize)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\ndistributed %s, unallocated %s\n", board.Distributed, board.UnallocatedRemainder)
	return nil
}
