package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/reference"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Register a training Job for efficiency collection",
	Long: `Register an existing Kubernetes training Job. The server waits for the
Job to finish, parses step times from its logs and computes MFU.

Examples:
  trainmetrics submit --job llama2-7b-pretrain --namespace training \
      --model llama2-7b --accelerator h100 --num-accelerators 8 --batch-size 32
  trainmetrics submit --job mixtral-ft --model mixtral-7b --accelerator h100 \
      --precision fp8 --num-accelerators 16 --batch-size 64 \
      --instance-type p5.48xlarge --instances 2`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var (
	submitJob          string
	submitNamespace    string
	submitContainer    string
	submitModel        string
	submitAccelerator  string
	submitPrecision    string
	submitNumAccel     int
	submitBatchSize    int
	submitWarmup       int
	submitFLOPs        float64
	submitInstanceType string
	submitInstances    int
)

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitJob, "job", "", "Kubernetes Job name (required)")
	f.StringVar(&submitNamespace, "namespace", "default", "Kubernetes namespace of the Job")
	f.StringVar(&submitContainer, "container", "", "Container to read logs from (default: the pod's only container)")
	f.StringVar(&submitModel, "model", "", "Model name (required)")
	f.StringVar(&submitAccelerator, "accelerator", "", "Accelerator name (required)")
	f.StringVar(&submitPrecision, "precision", string(reference.PrecisionBF16), "Numeric precision: bf16 or fp8")
	f.IntVar(&submitNumAccel, "num-accelerators", 0, "Accelerators used by the job (required)")
	f.IntVar(&submitBatchSize, "batch-size", 0, "Global batch size (required)")
	f.IntVar(&submitWarmup, "warmup-steps", 0, "Leading steps excluded from the average")
	f.Float64Var(&submitFLOPs, "flops-per-sample", 0, "Override the model's FLOPs per sample")
	f.StringVar(&submitInstanceType, "instance-type", "", "EC2 instance type, enables cost per sample")
	f.IntVar(&submitInstances, "instances", 0, "Number of instances (default 1 with --instance-type)")
	for _, name := range []string{"job", "model", "accelerator", "num-accelerators", "batch-size"} {
		_ = submitCmd.MarkFlagRequired(name)
	}
	RootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c := newClient()

	req := database.RunRequest{
		ModelName:        submitModel,
		AcceleratorName:  submitAccelerator,
		Precision:        submitPrecision,
		NumAccelerators:  submitNumAccel,
		GlobalBatchSize:  submitBatchSize,
		WarmupSteps:      submitWarmup,
		InstanceTypeName: submitInstanceType,
		InstanceCount:    submitInstances,
		Namespace:        submitNamespace,
		JobName:          submitJob,
		Container:        submitContainer,
	}
	if submitFLOPs > 0 {
		req.ModelFLOPsPerSampleOverride = &submitFLOPs
	}

	id, status, err := c.CreateRun(context.Background(), req)
	if err != nil {
		return err
	}

	switch getFormat() {
	case format.FormatJSON:
		return format.JSONTo(stdout(), map[string]string{"id": id, "status": status})
	default:
		fmt.Fprintf(stdout(), "Run submitted: %s (status: %s)\n", id, status)
		fmt.Fprintf(stdout(), "Track progress: trainmetrics status %s\n", id)
		return nil
	}
}
