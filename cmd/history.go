package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"baseline/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded restore invocations",
		Long: `History reads the restore journal and lists past invocations, newest
first, with their attempt counts and outcomes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := dbPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolving default journal path: %w", err)
				}
				path = filepath.Join(home, ".baseline", "journal.db")
			}

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			invs, err := j.Invocations(limit)
			if err != nil {
				return err
			}
			if len(invs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No restore invocations recorded.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "PROFILE", "MODE", "ATTEMPTS", "OUTCOME", "STARTED", "DURATION", "ERROR"})
			for _, inv := range invs {
				t.AppendRow(table.Row{
					shortID(inv.ID),
					inv.Profile,
					restoreMode(inv.Overlay),
					inv.Attempts,
					inv.Outcome,
					inv.StartedAt.Local().Format(time.RFC3339),
					invocationDuration(inv),
					inv.Error,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (default ~/.baseline/journal.db)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of invocations to list, 0 for all")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func restoreMode(overlay bool) string {
	if overlay {
		return "overlay"
	}
	return "full"
}

func invocationDuration(inv journal.Invocation) string {
	if inv.FinishedAt == nil {
		return "running"
	}
	return inv.FinishedAt.Sub(inv.StartedAt).Round(time.Millisecond).String()
}
