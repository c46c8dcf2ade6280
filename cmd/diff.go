package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"baseline/internal/profile"
	"baseline/internal/reconcile"
	"baseline/internal/testing/mock"
)

// diffPassLimit bounds the dry-run simulation; a well-formed profile pair
// converges in a handful of passes.
const diffPassLimit = 10

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <current.yaml> <target.yaml>",
		Short: "Show the operations a restore would perform",
		Long: `Diff simulates a restore from the first profile's state to the second,
without touching any runtime, and prints the corrective operations each
pass would perform.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := loadProfileFile(args[0])
			if err != nil {
				return fmt.Errorf("loading current profile: %w", err)
			}
			target, err := loadProfileFile(args[1])
			if err != nil {
				return fmt.Errorf("loading target profile: %w", err)
			}

			rows, err := simulateRestore(cmd, current, target)
			if err != nil {
				return err
			}

			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Profiles are converged; a restore would perform no operations.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"PASS", "LAYER", "OPERATION"})
			for _, r := range rows {
				t.AppendRow(table.Row{r.pass, r.layer, r.operation})
			}
			t.Render()
			return nil
		},
	}
}

type diffRow struct {
	pass      int
	layer     string
	operation string
}

// simulateRestore replays the reconciliation passes against an in-memory
// runtime seeded from the current profile and collects every queued
// operation.
func simulateRestore(cmd *cobra.Command, current, target *profile.Profile) ([]diffRow, error) {
	rt := mock.NewRuntime()
	rt.Seed(current)

	processors := []reconcile.Processor{
		reconcile.NewRepositoryProcessor(rt.Repositories()),
		reconcile.NewBundleProcessor(rt.Bundles()),
		reconcile.NewFeatureProcessor(rt.Features()),
	}

	report := reconcile.NewReport()
	var rows []diffRow

	for pass := 1; pass <= diffPassLimit; pass++ {
		report.BeginAttempt(false)
		queued := 0

		for _, proc := range processors {
			tasks := reconcile.NewTaskList()
			if err := proc.Reconcile(cmd.Context(), target, tasks); err != nil {
				return nil, fmt.Errorf("simulating %s layer: %w", proc.Kind(), err)
			}

			for _, task := range tasks.Tasks() {
				rows = append(rows, diffRow{pass: pass, layer: string(proc.Kind()), operation: task.Describe()})
			}
			queued += tasks.Len()

			if failed, err := tasks.Execute(cmd.Context(), report); err != nil {
				return nil, err
			} else if failed {
				return nil, fmt.Errorf("simulation could not apply a %s operation", proc.Kind())
			}
		}

		if queued == 0 {
			return rows, nil
		}
	}

	return nil, fmt.Errorf("simulation did not converge within %d passes", diffPassLimit)
}
