package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/reference"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Print the accelerator peak and model FLOPs reference table",
	Long: `Print the reference table used to compute MFU.

Examples:
  trainmetrics reference
  trainmetrics reference -o json
  trainmetrics reference --reference-file ./table.yaml`,
	Args: cobra.NoArgs,
	RunE: runReference,
}

var peakCmd = &cobra.Command{
	Use:   "peak <accelerator>",
	Short: "Show the peak TFLOPS of an accelerator",
	Long: `Show the dense peak TFLOPS of an accelerator at a numeric precision.

Examples:
  trainmetrics peak h100
  trainmetrics peak h100 --precision fp8`,
	Args: cobra.ExactArgs(1),
	RunE: runPeak,
}

var flopsCmd = &cobra.Command{
	Use:   "flops <model>",
	Short: "Show the training FLOPs per sample of a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runFLOPs,
}

var peakPrecision string

func init() {
	peakCmd.Flags().StringVar(&peakPrecision, "precision", string(reference.PrecisionBF16), "Numeric precision: bf16 or fp8")
	RootCmd.AddCommand(referenceCmd, peakCmd, flopsCmd)
}

func runReference(cmd *cobra.Command, args []string) error {
	ref, err := loadReference()
	if err != nil {
		return err
	}

	if getFormat() == format.FormatJSON {
		return format.JSONTo(stdout(), map[string]any{
			"version":      ref.Version(),
			"accelerators": ref.Accelerators(),
			"peak_tflops":  ref.PeakEntries(),
			"models":       ref.ModelEntries(),
		})
	}

	peakHeaders := []string{"Accelerator", "Precision", "Peak TFLOPS", "Source"}
	var peakRows [][]string
	for _, e := range ref.PeakEntries() {
		peakRows = append(peakRows, []string{e.Accelerator, string(e.Precision), fmt.Sprintf("%.0f", e.TFLOPS), e.Source})
	}
	modelHeaders := []string{"Model", "FLOPs/Sample"}
	var modelRows [][]string
	for _, m := range ref.ModelEntries() {
		modelRows = append(modelRows, []string{m.Name, fmt.Sprintf("%.3g", m.FLOPsPerSample)})
	}

	if getFormat() == format.FormatCSV {
		if err := format.CSV(stdout(), peakHeaders, peakRows); err != nil {
			return err
		}
		fmt.Fprintln(stdout())
		return format.CSV(stdout(), modelHeaders, modelRows)
	}

	fmt.Fprintf(stdout(), "Reference table version %s (accelerators: %s)\n\n", ref.Version(), strings.Join(ref.Accelerators(), ", "))
	format.TableTo(stdout(), peakHeaders, peakRows)
	fmt.Fprintln(stdout())
	format.TableTo(stdout(), modelHeaders, modelRows)
	return nil
}

func runPeak(cmd *cobra.Command, args []string) error {
	ref, err := loadReference()
	if err != nil {
		return err
	}
	entry, err := ref.PeakEntry(args[0], reference.Precision(peakPrecision))
	if err != nil {
		return err
	}

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), entry)
	default:
		fmt.Fprintf(stdout(), "%s %s: %.0f TFLOPS\n", entry.Accelerator, entry.Precision, entry.TFLOPS)
		if entry.Source != "" {
			fmt.Fprintf(stdout(), "Source: %s\n", entry.Source)
		}
		return nil
	}
}

func runFLOPs(cmd *cobra.Command, args []string) error {
	ref, err := loadReference()
	if err != nil {
		return err
	}
	flops, err := ref.ModelFLOPsPerSample(args[0])
	if err != nil {
		return err
	}

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), reference.ModelEntry{Name: strings.ToLower(strings.TrimSpace(args[0])), FLOPsPerSample: flops})
	default:
		fmt.Fprintf(stdout(), "%s: %.3g FLOPs per sample (%s)\n", args[0], flops, format.FLOPs(flops))
		return nil
	}
}
