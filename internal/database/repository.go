package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Repository provides database operations for training-efficiency data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with a connection pool.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertInstanceType inserts or updates an instance type keyed by name and
// returns its ID.
func (r *Repository) UpsertInstanceType(ctx context.Context, it *InstanceType) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO instance_types
		    (name, family, accelerator_name, accelerator_key, accelerator_count,
		     accelerator_memory_gib, vcpus, memory_gib)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (name) DO UPDATE SET
		     family                 = EXCLUDED.family,
		     accelerator_name       = EXCLUDED.accelerator_name,
		     accelerator_key        = EXCLUDED.accelerator_key,
		     accelerator_count      = EXCLUDED.accelerator_count,
		     accelerator_memory_gib = EXCLUDED.accelerator_memory_gib,
		     vcpus                  = EXCLUDED.vcpus,
		     memory_gib             = EXCLUDED.memory_gib
		 RETURNING id`,
		it.Name, it.Family, it.AcceleratorName, it.AcceleratorKey, it.AcceleratorCount,
		it.AcceleratorMemoryGiB, it.VCPUs, it.MemoryGiB,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert instance type: %w", err)
	}
	return id, nil
}

// GetInstanceTypeByName returns an instance type by name, or nil if not found.
func (r *Repository) GetInstanceTypeByName(ctx context.Context, name string) (*InstanceType, error) {
	var it InstanceType
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, family, accelerator_name, accelerator_key,
		        accelerator_count, accelerator_memory_gib, vcpus, memory_gib
		 FROM instance_types WHERE name = $1`, name,
	).Scan(&it.ID, &it.Name, &it.Family, &it.AcceleratorName, &it.AcceleratorKey,
		&it.AcceleratorCount, &it.AcceleratorMemoryGiB, &it.VCPUs, &it.MemoryGiB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query instance type: %w", err)
	}
	return &it, nil
}

// CreateTrainingRun inserts a new training run and returns its ID.
func (r *Repository) CreateTrainingRun(ctx context.Context, run *TrainingRun) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO training_runs
		    (model_name, accelerator_name, precision, num_accelerators,
		     global_batch_size, warmup_steps, model_flops_per_sample_override,
		     instance_type_id, instance_count, namespace, job_name, container,
		     reference_version, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 RETURNING id`,
		run.ModelName, run.AcceleratorName, run.Precision, run.NumAccelerators,
		run.GlobalBatchSize, run.WarmupSteps, run.ModelFLOPsPerSampleOverride,
		run.InstanceTypeID, run.InstanceCount, run.Namespace, run.JobName, run.Container,
		run.ReferenceVersion, run.Status,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert training run: %w", err)
	}
	return id, nil
}

// UpdateRunStatus updates the status and optional timestamps of a training run.
func (r *Repository) UpdateRunStatus(ctx context.Context, runID, status string) error {
	var query string
	switch status {
	case StatusRunning:
		query = `UPDATE training_runs SET status = $1, started_at = $2 WHERE id = $3`
	case StatusCompleted, StatusFailed:
		query = `UPDATE training_runs SET status = $1, completed_at = $2 WHERE id = $3`
	default:
		if _, err := r.pool.Exec(ctx, `UPDATE training_runs SET status = $1 WHERE id = $2`, status, runID); err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		return nil
	}
	if _, err := r.pool.Exec(ctx, query, status, time.Now(), runID); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// PersistEfficiency inserts efficiency metrics and marks the run as completed
// within a single transaction. Earlier completed runs of the same job are
// marked superseded.
func (r *Repository) PersistEfficiency(ctx context.Context, runID string, m *EfficiencyMetrics) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO efficiency_metrics
		    (run_id, steps_observed, steps_used, avg_step_time_sec,
		     step_time_p50_sec, step_time_p90_sec, step_time_p99_sec,
		     samples_per_second, model_flops_per_sample, peak_tflops,
		     tflops_per_accelerator, mfu, tensor_active_pct,
		     accelerator_utilization_pct, cost_per_million_samples_usd)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 RETURNING id, created_at`,
		runID, m.StepsObserved, m.StepsUsed, m.AvgStepTimeSec,
		m.StepTimeP50Sec, m.StepTimeP90Sec, m.StepTimeP99Sec,
		m.SamplesPerSecond, m.ModelFLOPsPerSample, m.PeakTFLOPS,
		m.TFLOPSPerAccelerator, m.MFU, m.TensorActivePct,
		m.AcceleratorUtilizationPct, m.CostPerMillionSamplesUSD,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert efficiency metrics: %w", err)
	}
	m.RunID = runID

	_, err = tx.Exec(ctx,
		`UPDATE training_runs SET superseded = TRUE
		 WHERE id <> $1 AND status = 'completed'
		   AND (namespace, job_name) = (SELECT namespace, job_name FROM training_runs WHERE id = $1)`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("supersede earlier runs: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE training_runs SET status = 'completed', completed_at = $1 WHERE id = $2`,
		time.Now(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run to completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTrainingRun returns a training run by ID, or nil if not found.
func (r *Repository) GetTrainingRun(ctx context.Context, runID string) (*TrainingRun, error) {
	var run TrainingRun
	err := r.pool.QueryRow(ctx,
		`SELECT id, model_name, accelerator_name, precision, num_accelerators,
		        global_batch_size, warmup_steps, model_flops_per_sample_override,
		        instance_type_id, instance_count, namespace, job_name, container,
		        reference_version, status, superseded, started_at, completed_at, created_at
		 FROM training_runs WHERE id = $1`, runID,
	).Scan(&run.ID, &run.ModelName, &run.AcceleratorName, &run.Precision, &run.NumAccelerators,
		&run.GlobalBatchSize, &run.WarmupSteps, &run.ModelFLOPsPerSampleOverride,
		&run.InstanceTypeID, &run.InstanceCount, &run.Namespace, &run.JobName, &run.Container,
		&run.ReferenceVersion, &run.Status, &run.Superseded, &run.StartedAt, &run.CompletedAt, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query training run: %w", err)
	}
	return &run, nil
}

// GetEfficiencyByRunID returns efficiency metrics for a given run, or nil.
func (r *Repository) GetEfficiencyByRunID(ctx context.Context, runID string) (*EfficiencyMetrics, error) {
	var m EfficiencyMetrics
	err := r.pool.QueryRow(ctx,
		`SELECT id, run_id, steps_observed, steps_used, avg_step_time_sec,
		        step_time_p50_sec, step_time_p90_sec, step_time_p99_sec,
		        samples_per_second, model_flops_per_sample, peak_tflops,
		        tflops_per_accelerator, mfu, tensor_active_pct,
		        accelerator_utilization_pct, cost_per_million_samples_usd, created_at
		 FROM efficiency_metrics WHERE run_id = $1`, runID,
	).Scan(&m.ID, &m.RunID, &m.StepsObserved, &m.StepsUsed, &m.AvgStepTimeSec,
		&m.StepTimeP50Sec, &m.StepTimeP90Sec, &m.StepTimeP99Sec,
		&m.SamplesPerSecond, &m.ModelFLOPsPerSample, &m.PeakTFLOPS,
		&m.TFLOPSPerAccelerator, &m.MFU, &m.TensorActivePct,
		&m.AcceleratorUtilizationPct, &m.CostPerMillionSamplesUSD, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query efficiency metrics: %w", err)
	}
	return &m, nil
}
