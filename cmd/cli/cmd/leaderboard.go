package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/database"
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank completed training runs by efficiency",
	Long: `Query completed runs ranked by MFU (default) or another metric.

Sort keys: model, accelerator, mfu, tflops_per_accelerator,
samples_per_second, step_time, tensor_active, cost, completed_at.

Examples:
  trainmetrics leaderboard
  trainmetrics leaderboard --model llama2-70b --accelerator h100
  trainmetrics leaderboard --sort cost -o csv`,
	Args: cobra.NoArgs,
	RunE: runLeaderboard,
}

var (
	lbModel       string
	lbAccelerator string
	lbPrecision   string
	lbSort        string
	lbDesc        bool
	lbLimit       int
)

func init() {
	f := leaderboardCmd.Flags()
	f.StringVar(&lbModel, "model", "", "Filter by model name")
	f.StringVar(&lbAccelerator, "accelerator", "", "Filter by accelerator")
	f.StringVar(&lbPrecision, "precision", "", "Filter by precision")
	f.StringVar(&lbSort, "sort", "", "Sort key (default mfu, descending)")
	f.BoolVar(&lbDesc, "desc", false, "Sort descending")
	f.IntVar(&lbLimit, "limit", 0, "Maximum rows (server default 100)")
	RootCmd.AddCommand(leaderboardCmd)
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	c := newClient()

	entries, err := c.ListLeaderboard(context.Background(), database.LeaderboardFilter{
		ModelName:       lbModel,
		AcceleratorName: lbAccelerator,
		Precision:       lbPrecision,
		SortBy:          lbSort,
		SortDesc:        lbDesc,
		Limit:           lbLimit,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 && getFormat() == format.FormatTable {
		fmt.Fprintln(stdout(), "No completed runs found.")
		return nil
	}

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), entries)
	case format.FormatCSV:
		return format.CSV(stdout(), leaderboardHeaders(), leaderboardRows(entries))
	default:
		format.TableTo(stdout(), []string{"Rank", "Model", "Accelerator", "Count", "Precision", "MFU", "TFLOPS/Accel", "Samples/s", "$/1M Samples"}, tableRows(entries))
		return nil
	}
}

func tableRows(entries []database.LeaderboardEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			fmt.Sprintf("%d", i+1),
			e.ModelName,
			e.AcceleratorName,
			fmt.Sprintf("%d", e.NumAccelerators),
			e.Precision,
			format.Percent(e.MFU),
			fmt.Sprintf("%.1f", e.TFLOPSPerAccelerator),
			fmt.Sprintf("%.2f", e.SamplesPerSecond),
			format.PtrF64(e.CostPerMillionSamplesUSD, 2),
		}
	}
	return rows
}

func leaderboardHeaders() []string {
	return []string{
		"run_id", "model", "accelerator", "precision", "num_accelerators", "global_batch_size",
		"instance_type", "reference_version", "completed_at",
		"avg_step_time_sec", "samples_per_second", "tflops_per_accelerator", "mfu",
		"tensor_active_pct", "cost_per_million_samples_usd",
	}
}

func leaderboardRows(entries []database.LeaderboardEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		instType := ""
		if e.InstanceTypeName != nil {
			instType = *e.InstanceTypeName
		}
		completed := ""
		if e.CompletedAt != nil {
			completed = e.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		rows[i] = []string{
			e.RunID,
			e.ModelName,
			e.AcceleratorName,
			e.Precision,
			fmt.Sprintf("%d", e.NumAccelerators),
			fmt.Sprintf("%d", e.GlobalBatchSize),
			instType,
			e.ReferenceVersion,
			completed,
			fmt.Sprintf("%.4f", e.AvgStepTimeSec),
			fmt.Sprintf("%.4f", e.SamplesPerSecond),
			fmt.Sprintf("%.2f", e.TFLOPSPerAccelerator),
			fmt.Sprintf("%.4f", e.MFU),
			format.PtrF64(e.TensorActivePct, 2),
			format.PtrF64(e.CostPerMillionSamplesUSD, 2),
		}
	}
	return rows
}
