package database

import "context"

// Repo defines the interface for training-efficiency data operations.
// The concrete *Repository satisfies this interface. Use this interface
// as a dependency in consumers to enable testing with mocks.
type Repo interface {
	UpsertInstanceType(ctx context.Context, it *InstanceType) (string, error)
	GetInstanceTypeByName(ctx context.Context, name string) (*InstanceType, error)
	ListInstanceTypes(ctx context.Context) ([]InstanceType, error)
	UpsertPricing(ctx context.Context, p *Pricing) error
	ListPricing(ctx context.Context, region string) ([]PricingRow, error)
	GetLatestPricing(ctx context.Context, instanceTypeID, region string) (*Pricing, error)
	CreateTrainingRun(ctx context.Context, run *TrainingRun) (string, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error
	PersistEfficiency(ctx context.Context, runID string, m *EfficiencyMetrics) error
	GetTrainingRun(ctx context.Context, runID string) (*TrainingRun, error)
	GetEfficiencyByRunID(ctx context.Context, runID string) (*EfficiencyMetrics, error)
	ListRuns(ctx context.Context, f RunFilter) ([]RunListItem, error)
	DeleteRun(ctx context.Context, runID string) error
	ListLeaderboard(ctx context.Context, f LeaderboardFilter) ([]LeaderboardEntry, error)
}

// Compile-time check that *Repository implements Repo.
var _ Repo = (*Repository)(nil)
