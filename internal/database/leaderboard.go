package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LeaderboardEntry joins a completed training run with its efficiency
// metrics for ranking.
type LeaderboardEntry struct {
	RunID                    string     `json:"run_id"`
	ModelName                string     `json:"model_name"`
	AcceleratorName          string     `json:"accelerator_name"`
	Precision                string     `json:"precision"`
	NumAccelerators          int        `json:"num_accelerators"`
	GlobalBatchSize          int        `json:"global_batch_size"`
	InstanceTypeName         *string    `json:"instance_type_name,omitempty"`
	ReferenceVersion         string     `json:"reference_version"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	AvgStepTimeSec           float64    `json:"avg_step_time_sec"`
	SamplesPerSecond         float64    `json:"samples_per_second"`
	TFLOPSPerAccelerator     float64    `json:"tflops_per_accelerator"`
	MFU                      float64    `json:"mfu"`
	TensorActivePct          *float64   `json:"tensor_active_pct,omitempty"`
	CostPerMillionSamplesUSD *float64   `json:"cost_per_million_samples_usd,omitempty"`
}

// LeaderboardFilter holds optional filters for leaderboard queries.
type LeaderboardFilter struct {
	ModelName       string // exact match on model_name
	AcceleratorName string // exact match on accelerator_name
	Precision       string // exact match on precision
	SortBy          string // key of allowedSortColumns
	SortDesc        bool
	Limit           int // max results (0 = default 100)
	Offset          int
}

// allowedSortColumns maps user-facing sort keys to SQL column expressions.
var allowedSortColumns = map[string]string{
	"model":                  "tr.model_name",
	"accelerator":            "tr.accelerator_name",
	"mfu":                    "em.mfu",
	"tflops_per_accelerator": "em.tflops_per_accelerator",
	"samples_per_second":     "em.samples_per_second",
	"step_time":              "em.avg_step_time_sec",
	"tensor_active":          "em.tensor_active_pct",
	"cost":                   "em.cost_per_million_samples_usd",
	"completed_at":           "tr.completed_at",
}

// ListLeaderboard queries completed, non-superseded runs with optional
// filters and sorting. The default order is MFU descending.
func (r *Repository) ListLeaderboard(ctx context.Context, f LeaderboardFilter) ([]LeaderboardEntry, error) {
	var (
		conditions []string
		args       []any
		argIdx     int
	)

	conditions = append(conditions, "tr.status = 'completed'")
	conditions = append(conditions, "tr.superseded = FALSE")

	if f.ModelName != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("tr.model_name = $%d", argIdx))
		args = append(args, f.ModelName)
	}
	if f.AcceleratorName != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("tr.accelerator_name = $%d", argIdx))
		args = append(args, f.AcceleratorName)
	}
	if f.Precision != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("tr.precision = $%d", argIdx))
		args = append(args, f.Precision)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	orderBy := "ORDER BY em.mfu DESC"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		dir := "ASC"
		if f.SortDesc {
			dir = "DESC"
		}
		orderBy = fmt.Sprintf("ORDER BY %s %s NULLS LAST", col, dir)
	}

	limit := 100
	if f.Limit > 0 && f.Limit <= 500 {
		limit = f.Limit
	}
	argIdx++
	limitClause := fmt.Sprintf("LIMIT $%d", argIdx)
	args = append(args, limit)

	offsetClause := ""
	if f.Offset > 0 {
		argIdx++
		offsetClause = fmt.Sprintf("OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	query := fmt.Sprintf(`
		SELECT
			tr.id, tr.model_name, tr.accelerator_name, tr.precision,
			tr.num_accelerators, tr.global_batch_size, it.name,
			tr.reference_version, tr.completed_at,
			em.avg_step_time_sec, em.samples_per_second,
			em.tflops_per_accelerator, em.mfu,
			em.tensor_active_pct, em.cost_per_million_samples_usd
		FROM training_runs tr
		JOIN efficiency_metrics em ON em.run_id = tr.id
		LEFT JOIN instance_types it ON tr.instance_type_id = it.id
		%s
		%s
		%s %s
	`, where, orderBy, limitClause, offsetClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		err := rows.Scan(
			&e.RunID, &e.ModelName, &e.AcceleratorName, &e.Precision,
			&e.NumAccelerators, &e.GlobalBatchSize, &e.InstanceTypeName,
			&e.ReferenceVersion, &e.CompletedAt,
			&e.AvgStepTimeSec, &e.SamplesPerSecond,
			&e.TFLOPSPerAccelerator, &e.MFU,
			&e.TensorActivePct, &e.CostPerMillionSamplesUSD,
		)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
