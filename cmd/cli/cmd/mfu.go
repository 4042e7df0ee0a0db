package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/metrics"
	"github.com/accelbench/trainmetrics/internal/reference"
)

var mfuCmd = &cobra.Command{
	Use:   "mfu",
	Short: "Compute MFU locally from a training log or step times",
	Long: `Compute model FLOPs utilization from step times without the API.

Step times come either from a training log (--log-file, "-" for stdin) or
from an explicit list (--step-times).

Examples:
  trainmetrics mfu --model llama2-7b --accelerator h100 --num-accelerators 8 \
      --batch-size 32 --log-file train.log
  trainmetrics mfu --model llama2-70b --accelerator v5p --num-accelerators 64 \
      --batch-size 256 --step-times 12.1,6.2,6.1,6.3 --warmup-steps 1`,
	Args: cobra.NoArgs,
	RunE: runMFU,
}

var (
	mfuModel          string
	mfuAccelerator    string
	mfuPrecision      string
	mfuNumAccel       int
	mfuBatchSize      int
	mfuWarmup         int
	mfuFLOPsPerSample float64
	mfuLogFile        string
	mfuStepTimes      []float64
	mfuHourlyUSD      float64
	mfuInstances      int
)

func init() {
	f := mfuCmd.Flags()
	f.StringVar(&mfuModel, "model", "", "Model name in the reference table (required)")
	f.StringVar(&mfuAccelerator, "accelerator", "", "Accelerator name in the reference table (required)")
	f.StringVar(&mfuPrecision, "precision", string(reference.PrecisionBF16), "Numeric precision: bf16 or fp8")
	f.IntVar(&mfuNumAccel, "num-accelerators", 0, "Accelerators used by the job (required)")
	f.IntVar(&mfuBatchSize, "batch-size", 0, "Global batch size in samples per step (required)")
	f.IntVar(&mfuWarmup, "warmup-steps", 0, "Leading steps excluded from the average")
	f.Float64Var(&mfuFLOPsPerSample, "flops-per-sample", 0, "Override the model's FLOPs per sample")
	f.StringVar(&mfuLogFile, "log-file", "", "Training log to parse step times from (- for stdin)")
	f.Float64SliceVar(&mfuStepTimes, "step-times", nil, "Comma-separated step times in seconds")
	f.Float64Var(&mfuHourlyUSD, "hourly-usd", 0, "Hourly price of one instance, enables cost per million samples")
	f.IntVar(&mfuInstances, "instances", 1, "Instance count for cost")
	_ = mfuCmd.MarkFlagRequired("model")
	_ = mfuCmd.MarkFlagRequired("accelerator")
	_ = mfuCmd.MarkFlagRequired("num-accelerators")
	_ = mfuCmd.MarkFlagRequired("batch-size")
	mfuCmd.MarkFlagsMutuallyExclusive("log-file", "step-times")
	RootCmd.AddCommand(mfuCmd)
}

func runMFU(cmd *cobra.Command, args []string) error {
	ref, err := loadReference()
	if err != nil {
		return err
	}

	steps, err := mfuSteps()
	if err != nil {
		return err
	}

	m, err := metrics.ComputeEfficiency(ref, metrics.EfficiencyInput{
		ModelName:                   mfuModel,
		AcceleratorName:             mfuAccelerator,
		Precision:                   reference.Precision(mfuPrecision),
		NumAccelerators:             mfuNumAccel,
		GlobalBatchSize:             mfuBatchSize,
		WarmupSteps:                 mfuWarmup,
		Steps:                       steps,
		ModelFLOPsPerSampleOverride: mfuFLOPsPerSample,
	})
	if err != nil {
		return err
	}
	m.CostPerMillionSamplesUSD = metrics.CostPerMillionSamples(mfuHourlyUSD, mfuInstances, m.SamplesPerSecond)

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), m)
	case format.FormatCSV:
		return format.CSV(stdout(), []string{"metric", "value"}, efficiencyRows(m))
	default:
		format.TableTo(stdout(), []string{"Metric", "Value"}, efficiencyRows(m))
		return nil
	}
}

func mfuSteps() ([]metrics.StepRecord, error) {
	if len(mfuStepTimes) > 0 {
		return metrics.StepsFromTimes(mfuStepTimes), nil
	}
	if mfuLogFile == "" {
		return nil, errors.New("one of --log-file or --step-times is required")
	}

	var (
		data []byte
		err  error
	)
	if mfuLogFile == "-" {
		data, err = io.ReadAll(RootCmd.InOrStdin())
	} else {
		data, err = os.ReadFile(mfuLogFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return metrics.ParseStepLog(data)
}

// efficiencyRows renders efficiency metrics as metric/value pairs.
func efficiencyRows(m *database.EfficiencyMetrics) [][]string {
	rows := [][]string{
		{"MFU", format.Percent(m.MFU)},
		{"TFLOPS/accelerator", fmt.Sprintf("%.1f", m.TFLOPSPerAccelerator)},
		{"Peak TFLOPS", fmt.Sprintf("%.0f", m.PeakTFLOPS)},
		{"FLOPs/sample", format.FLOPs(m.ModelFLOPsPerSample)},
		{"Samples/sec", fmt.Sprintf("%.2f", m.SamplesPerSecond)},
		{"Avg step time", fmt.Sprintf("%.3f s", m.AvgStepTimeSec)},
		{"Step time p50", format.PtrF64(m.StepTimeP50Sec, 3) + " s"},
		{"Step time p90", format.PtrF64(m.StepTimeP90Sec, 3) + " s"},
		{"Step time p99", format.PtrF64(m.StepTimeP99Sec, 3) + " s"},
		{"Steps used", strconv.Itoa(m.StepsUsed) + "/" + strconv.Itoa(m.StepsObserved)},
	}
	if m.TensorActivePct != nil {
		rows = append(rows, []string{"Tensor active", format.PtrF64(m.TensorActivePct, 1) + " %"})
	}
	if m.AcceleratorUtilizationPct != nil {
		rows = append(rows, []string{"Accelerator utilization", format.PtrF64(m.AcceleratorUtilizationPct, 1) + " %"})
	}
	if m.CostPerMillionSamplesUSD != nil {
		rows = append(rows, []string{"Cost / 1M samples", "$" + format.PtrF64(m.CostPerMillionSamplesUSD, 2)})
	}
	return rows
}
