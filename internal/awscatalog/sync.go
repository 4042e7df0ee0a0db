package awscatalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/accelbench/trainmetrics/internal/database"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Syncer refreshes instance types and pricing in the database.
type Syncer struct {
	EC2      ec2.DescribeInstanceTypesAPIClient
	Pricing  PricingAPI
	Repo     database.Repo
	Families []string
	// Throttle is the pause between Pricing API calls within one region.
	Throttle time.Duration
	// Now overrides the clock used for effective dates.
	Now func() time.Time
}

// Result summarizes one sync.
type Result struct {
	InstanceTypes int
	PricesUpdated int
	PricesFailed  int
}

// Sync upserts every GPU instance type of the configured families, then
// fetches prices for each region concurrently. Per-instance price failures
// are logged and counted but do not abort the sync.
func (s *Syncer) Sync(ctx context.Context, regions []string) (*Result, error) {
	instances, err := DescribeInstances(ctx, s.EC2, s.Families)
	if err != nil {
		return nil, err
	}

	stored := make([]database.InstanceType, 0, len(instances))
	for _, it := range instances {
		id, err := s.Repo.UpsertInstanceType(ctx, &it)
		if err != nil {
			return nil, fmt.Errorf("upsert %s: %w", it.Name, err)
		}
		it.ID = id
		stored = append(stored, it)
	}
	klog.InfoS("synced instance types", "count", len(stored))

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	today := now().Format("2006-01-02")

	var updated, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		g.Go(func() error {
			for i, it := range stored {
				if i > 0 && s.Throttle > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(s.Throttle):
					}
				}
				price, err := FetchPrice(ctx, s.Pricing, it.Name, region)
				if err != nil {
					klog.InfoS("skipping price", "instanceType", it.Name, "region", region, "err", err)
					failed.Add(1)
					continue
				}
				err = s.Repo.UpsertPricing(ctx, &database.Pricing{
					InstanceTypeID:       it.ID,
					Region:               region,
					OnDemandHourlyUSD:    price.OnDemandHourlyUSD,
					Reserved1YrHourlyUSD: price.Reserved1YrHourlyUSD,
					Reserved3YrHourlyUSD: price.Reserved3YrHourlyUSD,
					EffectiveDate:        today,
				})
				if err != nil {
					return fmt.Errorf("upsert pricing %s in %s: %w", it.Name, region, err)
				}
				updated.Add(1)
			}
			klog.InfoS("synced pricing", "region", region, "instanceTypes", len(stored))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		InstanceTypes: len(stored),
		PricesUpdated: int(updated.Load()),
		PricesFailed:  int(failed.Load()),
	}, nil
}
