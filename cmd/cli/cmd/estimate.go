package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/estimate"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <hf-model-id>",
	Short: "Estimate training FLOPs per sample from a HuggingFace model config",
	Long: `Estimate FLOPs per training sample for a model that is not in the
reference table, from its HuggingFace config.json and safetensors metadata.
Pass the result to "mfu --flops-per-sample" or "submit --flops-per-sample".

Examples:
  trainmetrics estimate meta-llama/Llama-2-7b-hf --seq-len 4096
  trainmetrics estimate mistralai/Mixtral-8x7B-v0.1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

var (
	estimateSeqLen   int
	estimateHFToken  string
	estimateEndpoint string
)

func init() {
	estimateCmd.Flags().IntVar(&estimateSeqLen, "seq-len", 4096, "Tokens per training sample")
	estimateCmd.Flags().StringVar(&estimateHFToken, "hf-token", os.Getenv("HF_TOKEN"), "HuggingFace token for gated models")
	estimateCmd.Flags().StringVar(&estimateEndpoint, "hf-endpoint", os.Getenv("HF_ENDPOINT"), "HuggingFace endpoint (default https://huggingface.co)")
	RootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	hf := estimate.NewHFClientWithEndpoint(estimateEndpoint)
	cfg, err := hf.FetchModelConfig(context.Background(), args[0], estimateHFToken)
	if err != nil {
		return err
	}
	est, err := estimate.FLOPsPerSample(*cfg, estimateSeqLen)
	if err != nil {
		return err
	}

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), est)
	default:
		rows := [][]string{
			{"Sequence length", strconv.Itoa(est.SeqLen)},
			{"Total params", fmt.Sprintf("%.2fB", float64(est.TotalParams)/1e9)},
			{"Active params", fmt.Sprintf("%.2fB", float64(est.ActiveParams)/1e9)},
			{"Dense FLOPs", format.FLOPs(est.DenseFLOPs)},
			{"Attention FLOPs", format.FLOPs(est.AttentionFLOPs)},
			{"FLOPs/sample", fmt.Sprintf("%.3g (%s)", est.FLOPsPerSample, format.FLOPs(est.FLOPsPerSample))},
		}
		if getFormat() == format.FormatCSV {
			return format.CSV(stdout(), []string{"metric", "value"}, rows)
		}
		format.TableTo(stdout(), []string{"Metric", "Value"}, rows)
		if est.ParamsInferred {
			fmt.Fprintln(stderr(), "Note: parameter count inferred from layer shapes; safetensors metadata was unavailable.")
		}
		return nil
	}
}
