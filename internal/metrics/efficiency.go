package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/reference"
)

var (
	// ErrInvalidInput reports run parameters that cannot produce metrics.
	ErrInvalidInput = errors.New("invalid efficiency input")
	// ErrNoSteps reports that no step timings remain after warmup.
	ErrNoSteps = errors.New("no steps to measure")
)

// Reference supplies the peak and per-sample FLOPs figures. *reference.Table
// satisfies it.
type Reference interface {
	PeakTFLOPS(accelerator string, p reference.Precision) (float64, error)
	ModelFLOPsPerSample(model string) (float64, error)
}

// EfficiencyInput describes one measured training run.
type EfficiencyInput struct {
	ModelName       string
	AcceleratorName string
	Precision       reference.Precision // defaults to bf16
	NumAccelerators int
	GlobalBatchSize int
	WarmupSteps     int
	Steps           []StepRecord

	// ModelFLOPsPerSampleOverride replaces the table value when positive.
	ModelFLOPsPerSampleOverride float64
}

// ComputeEfficiency turns per-step wall times into throughput and model
// FLOPs utilization:
//
//	tflops_per_accelerator = flops_per_sample * batch / avg_step_time / accelerators / 1e12
//	mfu                    = tflops_per_accelerator / peak_tflops
func ComputeEfficiency(ref Reference, in EfficiencyInput) (*database.EfficiencyMetrics, error) {
	if in.NumAccelerators <= 0 {
		return nil, fmt.Errorf("%w: num_accelerators must be positive, got %d", ErrInvalidInput, in.NumAccelerators)
	}
	if in.GlobalBatchSize <= 0 {
		return nil, fmt.Errorf("%w: global_batch_size must be positive, got %d", ErrInvalidInput, in.GlobalBatchSize)
	}
	if in.WarmupSteps < 0 {
		return nil, fmt.Errorf("%w: warmup_steps must not be negative, got %d", ErrInvalidInput, in.WarmupSteps)
	}
	if in.ModelFLOPsPerSampleOverride < 0 || math.IsNaN(in.ModelFLOPsPerSampleOverride) || math.IsInf(in.ModelFLOPsPerSampleOverride, 0) {
		return nil, fmt.Errorf("%w: model_flops_per_sample override must be a positive number", ErrInvalidInput)
	}
	for _, s := range in.Steps {
		if !(s.StepTimeSec > 0) || math.IsInf(s.StepTimeSec, 0) {
			return nil, fmt.Errorf("%w: step %d has step time %v", ErrInvalidInput, s.Step, s.StepTimeSec)
		}
	}
	if len(in.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if in.WarmupSteps >= len(in.Steps) {
		return nil, fmt.Errorf("%w: %d steps observed, %d warmup steps skipped", ErrNoSteps, len(in.Steps), in.WarmupSteps)
	}

	precision := in.Precision
	if precision == "" {
		precision = reference.PrecisionBF16
	}
	peak, err := ref.PeakTFLOPS(in.AcceleratorName, precision)
	if err != nil {
		return nil, err
	}

	flopsPerSample := in.ModelFLOPsPerSampleOverride
	if flopsPerSample == 0 {
		flopsPerSample, err = ref.ModelFLOPsPerSample(in.ModelName)
		if err != nil {
			return nil, err
		}
	}

	used := in.Steps[in.WarmupSteps:]
	times := make([]float64, len(used))
	for i, s := range used {
		times[i] = s.StepTimeSec
	}
	avg := mean(times)
	p50, p90, p99 := percentiles(times)

	batch := float64(in.GlobalBatchSize)
	tflopsPerAccel := flopsPerSample * batch / avg / float64(in.NumAccelerators) / 1e12

	return &database.EfficiencyMetrics{
		StepsObserved:        len(in.Steps),
		StepsUsed:            len(used),
		AvgStepTimeSec:       avg,
		StepTimeP50Sec:       p50,
		StepTimeP90Sec:       p90,
		StepTimeP99Sec:       p99,
		SamplesPerSecond:     batch / avg,
		ModelFLOPsPerSample:  flopsPerSample,
		PeakTFLOPS:           peak,
		TFLOPSPerAccelerator: tflopsPerAccel,
		MFU:                  tflopsPerAccel / peak,
	}, nil
}

// CostPerMillionSamples returns the USD cost of training on one million
// samples at the given hourly instance price, or nil when any input is
// non-positive.
func CostPerMillionSamples(hourlyUSD float64, instances int, samplesPerSecond float64) *float64 {
	if hourlyUSD <= 0 || instances <= 0 || samplesPerSecond <= 0 {
		return nil
	}
	secondsPerMillion := 1e6 / samplesPerSecond
	v := hourlyUSD * float64(instances) * secondsPerMillion / 3600
	return &v
}
