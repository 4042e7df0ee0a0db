package database

import (
	"context"
	"testing"
)

func seedMockRepoWithRuns(t *testing.T) *MockRepo {
	t.Helper()
	repo := NewMockRepo()

	key := "h100"
	repo.SeedInstanceType(&InstanceType{
		ID:                   "it-001",
		Name:                 "p5.48xlarge",
		Family:               "p5",
		AcceleratorName:      "H100",
		AcceleratorKey:       &key,
		AcceleratorCount:     8,
		AcceleratorMemoryGiB: 640,
		VCPUs:                192,
		MemoryGiB:            2048,
	})

	ctx := context.Background()

	// Create runs in different statuses.
	for _, tc := range []struct {
		model  string
		status string
	}{
		{"llama2-7b", StatusCompleted},
		{"llama2-7b", StatusRunning},
		{"gpt3-175b", StatusPending},
		{"gpt3-175b", StatusFailed},
	} {
		run := &TrainingRun{
			ModelName:        tc.model,
			AcceleratorName:  "h100",
			Precision:        "bf16",
			NumAccelerators:  8,
			GlobalBatchSize:  32,
			Namespace:        "training",
			JobName:          tc.model + "-" + tc.status,
			ReferenceVersion: "2024.1",
			Status:           tc.status,
		}
		if _, err := repo.CreateTrainingRun(ctx, run); err != nil {
			t.Fatalf("CreateTrainingRun: %v", err)
		}
	}

	return repo
}

func TestMockRepo_ListRuns_NoFilter(t *testing.T) {
	repo := seedMockRepoWithRuns(t)
	items, err := repo.ListRuns(context.Background(), RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("expected 4 runs, got %d", len(items))
	}
	// Newest first.
	if items[0].Status != StatusFailed {
		t.Errorf("expected newest run first, got status %s", items[0].Status)
	}
}

func TestMockRepo_ListRuns_FilterByStatus(t *testing.T) {
	repo := seedMockRepoWithRuns(t)

	items, err := repo.ListRuns(context.Background(), RunFilter{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 completed run, got %d", len(items))
	}
	if items[0].Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", items[0].Status)
	}
}

func TestMockRepo_ListRuns_FilterByModel(t *testing.T) {
	repo := seedMockRepoWithRuns(t)

	items, err := repo.ListRuns(context.Background(), RunFilter{ModelName: "LLAMA"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 llama runs, got %d", len(items))
	}
	for _, item := range items {
		if item.ModelName != "llama2-7b" {
			t.Errorf("unexpected model %s", item.ModelName)
		}
	}
}

func TestMockRepo_ListRuns_LimitOffset(t *testing.T) {
	repo := seedMockRepoWithRuns(t)

	items, err := repo.ListRuns(context.Background(), RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(items))
	}

	items, err = repo.ListRuns(context.Background(), RunFilter{Offset: 3})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 run after offset 3, got %d", len(items))
	}

	items, err = repo.ListRuns(context.Background(), RunFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no runs past the end, got %d", len(items))
	}
}

func TestMockRepo_UpdateRunStatus_SetsTimestamps(t *testing.T) {
	repo := NewMockRepo()
	ctx := context.Background()
	id, _ := repo.CreateTrainingRun(ctx, &TrainingRun{ModelName: "llama2-7b", Status: StatusPending})

	if err := repo.UpdateRunStatus(ctx, id, StatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	run, _ := repo.GetTrainingRun(ctx, id)
	if run.StartedAt == nil {
		t.Error("expected started_at to be set")
	}

	if err := repo.UpdateRunStatus(ctx, id, StatusFailed); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	run, _ = repo.GetTrainingRun(ctx, id)
	if run.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got := repo.GetRunStatus(id); got != StatusFailed {
		t.Errorf("expected status failed, got %s", got)
	}

	if err := repo.UpdateRunStatus(ctx, "missing", StatusRunning); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestMockRepo_DeleteRun(t *testing.T) {
	repo := seedMockRepoWithRuns(t)
	ctx := context.Background()

	items, _ := repo.ListRuns(ctx, RunFilter{})
	targetID := items[0].ID

	if err := repo.PersistEfficiency(ctx, targetID, &EfficiencyMetrics{MFU: 0.4}); err != nil {
		t.Fatalf("PersistEfficiency: %v", err)
	}
	if err := repo.DeleteRun(ctx, targetID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	items, _ = repo.ListRuns(ctx, RunFilter{})
	if len(items) != 3 {
		t.Errorf("expected 3 runs after delete, got %d", len(items))
	}
	run, _ := repo.GetTrainingRun(ctx, targetID)
	if run != nil {
		t.Error("expected deleted run to be gone")
	}
	em, _ := repo.GetEfficiencyByRunID(ctx, targetID)
	if em != nil {
		t.Error("expected efficiency metrics to be deleted with the run")
	}
}

func TestMockRepo_GetTrainingRun_NotFound(t *testing.T) {
	repo := NewMockRepo()
	run, err := repo.GetTrainingRun(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Error("expected nil for nonexistent run")
	}
}

func TestMockRepo_Pricing_LatestWins(t *testing.T) {
	repo := seedMockRepoWithRuns(t)
	ctx := context.Background()

	for _, p := range []Pricing{
		{InstanceTypeID: "it-001", Region: "us-east-2", OnDemandHourlyUSD: 98.32, EffectiveDate: "2024-01-01"},
		{InstanceTypeID: "it-001", Region: "us-east-2", OnDemandHourlyUSD: 55.04, EffectiveDate: "2024-06-01"},
		{InstanceTypeID: "it-001", Region: "us-west-2", OnDemandHourlyUSD: 60.00, EffectiveDate: "2024-06-01"},
	} {
		p := p
		if err := repo.UpsertPricing(ctx, &p); err != nil {
			t.Fatalf("UpsertPricing: %v", err)
		}
	}

	latest, err := repo.GetLatestPricing(ctx, "it-001", "us-east-2")
	if err != nil {
		t.Fatalf("GetLatestPricing: %v", err)
	}
	if latest == nil || latest.OnDemandHourlyUSD != 55.04 {
		t.Fatalf("expected latest price 55.04, got %+v", latest)
	}

	rows, err := repo.ListPricing(ctx, "us-east-2")
	if err != nil {
		t.Fatalf("ListPricing: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 pricing row, got %d", len(rows))
	}
	if rows[0].AcceleratorKey == nil || *rows[0].AcceleratorKey != "h100" {
		t.Errorf("expected accelerator key h100, got %v", rows[0].AcceleratorKey)
	}

	none, err := repo.GetLatestPricing(ctx, "it-001", "eu-west-1")
	if err != nil {
		t.Fatalf("GetLatestPricing: %v", err)
	}
	if none != nil {
		t.Error("expected nil pricing for unknown region")
	}
}

func TestMockRepo_UpsertInstanceType_KeepsID(t *testing.T) {
	repo := NewMockRepo()
	ctx := context.Background()

	id1, err := repo.UpsertInstanceType(ctx, &InstanceType{Name: "p4d.24xlarge", AcceleratorCount: 8})
	if err != nil {
		t.Fatalf("UpsertInstanceType: %v", err)
	}
	id2, err := repo.UpsertInstanceType(ctx, &InstanceType{Name: "p4d.24xlarge", AcceleratorCount: 8, VCPUs: 96})
	if err != nil {
		t.Fatalf("UpsertInstanceType: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected stable ID across upserts, got %s and %s", id1, id2)
	}
	it, _ := repo.GetInstanceTypeByName(ctx, "p4d.24xlarge")
	if it == nil || it.VCPUs != 96 {
		t.Errorf("expected updated instance type, got %+v", it)
	}
}
