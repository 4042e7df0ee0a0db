package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepo is an in-memory implementation of Repo for testing.
type MockRepo struct {
	mu        sync.Mutex
	instTypes map[string]*InstanceType      // keyed by name
	pricing   map[string][]Pricing          // keyed by "instanceTypeID|region"
	runs      map[string]*TrainingRun       // keyed by run ID
	metrics   map[string]*EfficiencyMetrics // keyed by run ID
	seq       map[string]int                // creation order, keyed by run ID
	nextSeq   int
}

// NewMockRepo creates a new MockRepo.
func NewMockRepo() *MockRepo {
	return &MockRepo{
		instTypes: make(map[string]*InstanceType),
		pricing:   make(map[string][]Pricing),
		runs:      make(map[string]*TrainingRun),
		metrics:   make(map[string]*EfficiencyMetrics),
		seq:       make(map[string]int),
	}
}

// SeedInstanceType adds an instance type to the mock store.
func (m *MockRepo) SeedInstanceType(it *InstanceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instTypes[it.Name] = it
}

// GetRunStatus returns the current status of a run (for test assertions).
func (m *MockRepo) GetRunStatus(runID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r.Status
	}
	return ""
}

func (m *MockRepo) UpsertInstanceType(_ context.Context, it *InstanceType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instTypes[it.Name]; ok {
		it.ID = existing.ID
	} else if it.ID == "" {
		it.ID = uuid.NewString()
	}
	cp := *it
	m.instTypes[it.Name] = &cp
	return it.ID, nil
}

func (m *MockRepo) GetInstanceTypeByName(_ context.Context, name string) (*InstanceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instTypes[name], nil
}

func (m *MockRepo) ListInstanceTypes(_ context.Context) ([]InstanceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InstanceType
	for _, it := range m.instTypes {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockRepo) UpsertPricing(_ context.Context, p *Pricing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.InstanceTypeID + "|" + p.Region
	rows := m.pricing[key]
	for i := range rows {
		if rows[i].EffectiveDate == p.EffectiveDate {
			rows[i].OnDemandHourlyUSD = p.OnDemandHourlyUSD
			rows[i].Reserved1YrHourlyUSD = p.Reserved1YrHourlyUSD
			rows[i].Reserved3YrHourlyUSD = p.Reserved3YrHourlyUSD
			return nil
		}
	}
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.CreatedAt = time.Now()
	m.pricing[key] = append(rows, cp)
	return nil
}

func (m *MockRepo) latestPricing(instanceTypeID, region string) *Pricing {
	var latest *Pricing
	rows := m.pricing[instanceTypeID+"|"+region]
	for i := range rows {
		// Dates are YYYY-MM-DD, so string comparison orders them.
		if latest == nil || rows[i].EffectiveDate > latest.EffectiveDate {
			latest = &rows[i]
		}
	}
	return latest
}

func (m *MockRepo) ListPricing(_ context.Context, region string) ([]PricingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PricingRow
	for _, it := range m.instTypes {
		p := m.latestPricing(it.ID, region)
		if p == nil {
			continue
		}
		out = append(out, PricingRow{
			InstanceTypeName:     it.Name,
			AcceleratorKey:       it.AcceleratorKey,
			OnDemandHourlyUSD:    p.OnDemandHourlyUSD,
			Reserved1YrHourlyUSD: p.Reserved1YrHourlyUSD,
			Reserved3YrHourlyUSD: p.Reserved3YrHourlyUSD,
			EffectiveDate:        p.EffectiveDate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceTypeName < out[j].InstanceTypeName })
	return out, nil
}

func (m *MockRepo) GetLatestPricing(_ context.Context, instanceTypeID, region string) (*Pricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.latestPricing(instanceTypeID, region)
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepo) CreateTrainingRun(_ context.Context, run *TrainingRun) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	run.ID = id
	run.CreatedAt = time.Now()
	cp := *run
	m.runs[id] = &cp
	m.nextSeq++
	m.seq[id] = m.nextSeq
	return id, nil
}

func (m *MockRepo) UpdateRunStatus(_ context.Context, runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	now := time.Now()
	switch status {
	case StatusRunning:
		run.StartedAt = &now
	case StatusCompleted, StatusFailed:
		run.CompletedAt = &now
	}
	return nil
}

func (m *MockRepo) PersistEfficiency(_ context.Context, runID string, em *EfficiencyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	em.RunID = runID
	em.ID = uuid.NewString()
	em.CreatedAt = time.Now()
	cp := *em
	m.metrics[runID] = &cp

	for id, other := range m.runs {
		if id != runID && other.Status == StatusCompleted &&
			other.Namespace == run.Namespace && other.JobName == run.JobName {
			other.Superseded = true
		}
	}
	run.Status = StatusCompleted
	now := time.Now()
	run.CompletedAt = &now
	return nil
}

func (m *MockRepo) GetTrainingRun(_ context.Context, runID string) (*TrainingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MockRepo) GetEfficiencyByRunID(_ context.Context, runID string) (*EfficiencyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em, ok := m.metrics[runID]
	if !ok {
		return nil, nil
	}
	cp := *em
	return &cp, nil
}

// ListRuns returns training runs matching the given filter, newest first.
func (m *MockRepo) ListRuns(_ context.Context, f RunFilter) ([]RunListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, run := range m.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.ModelName != "" && !strings.Contains(
			strings.ToLower(run.ModelName),
			strings.ToLower(f.ModelName),
		) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.seq[ids[i]] > m.seq[ids[j]] })

	var items []RunListItem
	for _, id := range ids {
		run := m.runs[id]
		items = append(items, RunListItem{
			ID:              run.ID,
			ModelName:       run.ModelName,
			AcceleratorName: run.AcceleratorName,
			Precision:       run.Precision,
			NumAccelerators: run.NumAccelerators,
			JobName:         run.JobName,
			Status:          run.Status,
			CreatedAt:       run.CreatedAt,
			StartedAt:       run.StartedAt,
			CompletedAt:     run.CompletedAt,
		})
	}

	limit := 50
	if f.Limit > 0 && f.Limit <= 200 {
		limit = f.Limit
	}
	return paginate(items, f.Offset, limit), nil
}

// DeleteRun removes a training run and its metrics from the mock store.
func (m *MockRepo) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, runID)
	delete(m.runs, runID)
	delete(m.seq, runID)
	return nil
}

// ListLeaderboard returns leaderboard entries matching the given filter.
// Only the default MFU ordering and the "mfu" sort key are honored.
func (m *MockRepo) ListLeaderboard(_ context.Context, f LeaderboardFilter) ([]LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []LeaderboardEntry
	for runID, run := range m.runs {
		if run.Status != StatusCompleted || run.Superseded {
			continue
		}
		met := m.metrics[runID]
		if met == nil {
			continue
		}
		if f.ModelName != "" && run.ModelName != f.ModelName {
			continue
		}
		if f.AcceleratorName != "" && run.AcceleratorName != f.AcceleratorName {
			continue
		}
		if f.Precision != "" && run.Precision != f.Precision {
			continue
		}

		var instName *string
		if run.InstanceTypeID != nil {
			for _, it := range m.instTypes {
				if it.ID == *run.InstanceTypeID {
					name := it.Name
					instName = &name
					break
				}
			}
		}

		entries = append(entries, LeaderboardEntry{
			RunID:                    runID,
			ModelName:                run.ModelName,
			AcceleratorName:          run.AcceleratorName,
			Precision:                run.Precision,
			NumAccelerators:          run.NumAccelerators,
			GlobalBatchSize:          run.GlobalBatchSize,
			InstanceTypeName:         instName,
			ReferenceVersion:         run.ReferenceVersion,
			CompletedAt:              run.CompletedAt,
			AvgStepTimeSec:           met.AvgStepTimeSec,
			SamplesPerSecond:         met.SamplesPerSecond,
			TFLOPSPerAccelerator:     met.TFLOPSPerAccelerator,
			MFU:                      met.MFU,
			TensorActivePct:          met.TensorActivePct,
			CostPerMillionSamplesUSD: met.CostPerMillionSamplesUSD,
		})
	}

	asc := f.SortBy == "mfu" && !f.SortDesc
	sort.Slice(entries, func(i, j int) bool {
		if asc {
			return entries[i].MFU < entries[j].MFU
		}
		return entries[i].MFU > entries[j].MFU
	})

	limit := 100
	if f.Limit > 0 && f.Limit <= 500 {
		limit = f.Limit
	}
	return paginate(entries, f.Offset, limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ Repo = (*MockRepo)(nil)
