package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/database"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Check the status of a training run",
	Long: `Fetch the current status and efficiency (if available) for a training run.

Examples:
  trainmetrics status 3f1c6f0e-7d7a-4c4e-9a51-4b8f0c1f2d3e
  trainmetrics status 3f1c6f0e-7d7a-4c4e-9a51-4b8f0c1f2d3e -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	runID := args[0]

	run, err := c.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}

	if getFormat() == format.FormatJSON {
		// Include efficiency in JSON output if available.
		var em *database.EfficiencyMetrics
		if run.Status == database.StatusCompleted {
			em, _ = c.GetEfficiency(context.Background(), runID)
		}
		return format.JSONTo(stdout(), map[string]any{
			"run":        run,
			"efficiency": em,
		})
	}

	out := stdout()
	fmt.Fprintf(out, "Run ID:       %s\n", run.ID)
	fmt.Fprintf(out, "Status:       %s\n", run.Status)
	fmt.Fprintf(out, "Job:          %s/%s\n", run.Namespace, run.JobName)
	fmt.Fprintf(out, "Model:        %s\n", run.ModelName)
	fmt.Fprintf(out, "Accelerator:  %d x %s (%s)\n", run.NumAccelerators, run.AcceleratorName, run.Precision)
	fmt.Fprintf(out, "Batch size:   %d\n", run.GlobalBatchSize)
	fmt.Fprintf(out, "Reference:    %s\n", run.ReferenceVersion)
	if run.Superseded {
		fmt.Fprintln(out, "Superseded:   yes (a newer run of the same job exists)")
	}
	if run.StartedAt != nil {
		fmt.Fprintf(out, "Started:      %s\n", run.StartedAt.Format("2006-01-02 15:04:05 UTC"))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:    %s\n", run.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
	}

	if run.Status != database.StatusCompleted {
		return nil
	}

	em, err := c.GetEfficiency(context.Background(), runID)
	if err != nil {
		fmt.Fprintln(stderr(), "Warning: could not fetch efficiency:", err)
		return nil
	}

	fmt.Fprintln(out, "\nEfficiency:")
	format.TableTo(out, []string{"Metric", "Value"}, efficiencyRows(em))
	return nil
}
