package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/client"
	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/reference"
)

var (
	apiURL        string
	outputFormat  string
	referenceFile string
)

// RootCmd is the top-level CLI command.
var RootCmd = &cobra.Command{
	Use:   "trainmetrics",
	Short: "trainmetrics CLI: model FLOPs utilization for training jobs",
	Long: `Compute and track model FLOPs utilization (MFU) of training runs.

Reference lookups and local MFU computation work offline. Run submission,
status, leaderboard and export talk to the trainmetrics API.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOrDefault("TRAINMETRICS_API_URL", "http://localhost:8080"), "trainmetrics API base URL")
	RootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, csv")
	RootCmd.PersistentFlags().StringVar(&referenceFile, "reference-file", os.Getenv("TRAINMETRICS_REFERENCE_FILE"), "YAML reference table overriding the built-in one")
}

func newClient() *client.Client {
	return client.New(apiURL)
}

func getFormat() format.OutputFormat {
	switch outputFormat {
	case "json":
		return format.FormatJSON
	case "csv":
		return format.FormatCSV
	default:
		return format.FormatTable
	}
}

// stdout is where command output goes; tests redirect it with RootCmd.SetOut.
func stdout() io.Writer {
	return RootCmd.OutOrStdout()
}

func stderr() io.Writer {
	return RootCmd.ErrOrStderr()
}

func loadReference() (*reference.Table, error) {
	if referenceFile == "" {
		return reference.Default(), nil
	}
	t, err := reference.LoadFile(referenceFile)
	if err != nil {
		return nil, fmt.Errorf("load reference file: %w", err)
	}
	return t, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
