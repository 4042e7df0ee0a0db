package database

import (
	"time"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type InstanceType struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Family               string  `json:"family"`
	AcceleratorName      string  `json:"accelerator_name"`
	AcceleratorKey       *string `json:"accelerator_key,omitempty"`
	AcceleratorCount     int     `json:"accelerator_count"`
	AcceleratorMemoryGiB int     `json:"accelerator_memory_gib"`
	VCPUs                int     `json:"vcpus"`
	MemoryGiB            int     `json:"memory_gib"`
}

type Pricing struct {
	ID                   string    `json:"id"`
	InstanceTypeID       string    `json:"instance_type_id"`
	Region               string    `json:"region"`
	OnDemandHourlyUSD    float64   `json:"on_demand_hourly_usd"`
	Reserved1YrHourlyUSD *float64  `json:"reserved_1yr_hourly_usd,omitempty"`
	Reserved3YrHourlyUSD *float64  `json:"reserved_3yr_hourly_usd,omitempty"`
	EffectiveDate        string    `json:"effective_date"`
	CreatedAt            time.Time `json:"created_at"`
}

// TrainingRun is a training job whose step times are collected and turned
// into efficiency metrics.
type TrainingRun struct {
	ID                          string     `json:"id"`
	ModelName                   string     `json:"model_name"`
	AcceleratorName             string     `json:"accelerator_name"`
	Precision                   string     `json:"precision"`
	NumAccelerators             int        `json:"num_accelerators"`
	GlobalBatchSize             int        `json:"global_batch_size"`
	WarmupSteps                 int        `json:"warmup_steps"`
	ModelFLOPsPerSampleOverride *float64   `json:"model_flops_per_sample_override,omitempty"`
	InstanceTypeID              *string    `json:"instance_type_id,omitempty"`
	InstanceCount               int        `json:"instance_count"`
	Namespace                   string     `json:"namespace"`
	JobName                     string     `json:"job_name"`
	Container                   string     `json:"container,omitempty"`
	ReferenceVersion            string     `json:"reference_version"`
	Status                      string     `json:"status"`
	Superseded                  bool       `json:"superseded"`
	StartedAt                   *time.Time `json:"started_at,omitempty"`
	CompletedAt                 *time.Time `json:"completed_at,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
}

// EfficiencyMetrics holds the computed throughput and utilization of a run.
type EfficiencyMetrics struct {
	ID                        string    `json:"id"`
	RunID                     string    `json:"run_id"`
	StepsObserved             int       `json:"steps_observed"`
	StepsUsed                 int       `json:"steps_used"`
	AvgStepTimeSec            float64   `json:"avg_step_time_sec"`
	StepTimeP50Sec            *float64  `json:"step_time_p50_sec,omitempty"`
	StepTimeP90Sec            *float64  `json:"step_time_p90_sec,omitempty"`
	StepTimeP99Sec            *float64  `json:"step_time_p99_sec,omitempty"`
	SamplesPerSecond          float64   `json:"samples_per_second"`
	ModelFLOPsPerSample       float64   `json:"model_flops_per_sample"`
	PeakTFLOPS                float64   `json:"peak_tflops"`
	TFLOPSPerAccelerator      float64   `json:"tflops_per_accelerator"`
	MFU                       float64   `json:"mfu"`
	TensorActivePct           *float64  `json:"tensor_active_pct,omitempty"`
	AcceleratorUtilizationPct *float64  `json:"accelerator_utilization_pct,omitempty"`
	CostPerMillionSamplesUSD  *float64  `json:"cost_per_million_samples_usd,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
}

// RunRequest represents the input parameters for registering a training run.
type RunRequest struct {
	ModelName                   string   `json:"model_name"`
	AcceleratorName             string   `json:"accelerator_name"`
	Precision                   string   `json:"precision"`
	NumAccelerators             int      `json:"num_accelerators"`
	GlobalBatchSize             int      `json:"global_batch_size"`
	WarmupSteps                 int      `json:"warmup_steps"`
	ModelFLOPsPerSampleOverride *float64 `json:"model_flops_per_sample_override,omitempty"`
	InstanceTypeName            string   `json:"instance_type_name,omitempty"`
	InstanceCount               int      `json:"instance_count,omitempty"`
	Namespace                   string   `json:"namespace"`
	JobName                     string   `json:"job_name"`
	Container                   string   `json:"container,omitempty"`
}
