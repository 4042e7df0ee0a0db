package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RunFilter holds optional filters for listing training runs.
type RunFilter struct {
	Status    string // "pending", "running", "completed", "failed", or ""
	ModelName string // ILIKE filter on model_name
	Limit     int
	Offset    int
}

// RunListItem is a row for the runs list.
type RunListItem struct {
	ID              string     `json:"id"`
	ModelName       string     `json:"model_name"`
	AcceleratorName string     `json:"accelerator_name"`
	Precision       string     `json:"precision"`
	NumAccelerators int        `json:"num_accelerators"`
	JobName         string     `json:"job_name"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ListRuns returns training runs matching the given filter, newest first.
func (r *Repository) ListRuns(ctx context.Context, f RunFilter) ([]RunListItem, error) {
	var (
		conditions []string
		args       []any
		argIdx     int
	)

	if f.Status != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
	}
	if f.ModelName != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("model_name ILIKE $%d", argIdx))
		args = append(args, "%"+f.ModelName+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := 50
	if f.Limit > 0 && f.Limit <= 200 {
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
		SELECT id, model_name, accelerator_name, precision, num_accelerators,
		       job_name, status, created_at, started_at, completed_at
		FROM training_runs
		%s
		ORDER BY created_at DESC
		%s %s
	`, where, limitClause, offsetClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var items []RunListItem
	for rows.Next() {
		var item RunListItem
		err := rows.Scan(
			&item.ID, &item.ModelName, &item.AcceleratorName, &item.Precision, &item.NumAccelerators,
			&item.JobName, &item.Status, &item.CreatedAt, &item.StartedAt, &item.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteRun removes a training run and its efficiency metrics.
func (r *Repository) DeleteRun(ctx context.Context, runID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM efficiency_metrics WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete efficiency metrics: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM training_runs WHERE id = $1`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
