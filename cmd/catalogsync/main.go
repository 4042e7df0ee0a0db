package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"k8s.io/klog/v2"

	"github.com/accelbench/trainmetrics/internal/awscatalog"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/dbconfig"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx := context.Background()

	dbURL, err := dbconfig.ConnString(ctx, os.Getenv("DATABASE_URL"), os.Getenv("DATABASE_SECRET_ARN"))
	if err != nil {
		klog.Fatalf("resolve database connection: %v", err)
	}

	regions := splitList(getEnv("PRICING_REGIONS", "us-east-2"))
	families := splitList(os.Getenv("INSTANCE_FAMILIES"))

	repo, err := database.NewRepository(ctx, dbURL)
	if err != nil {
		klog.Fatalf("connect to database: %v", err)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		klog.Fatalf("migrate: %v", err)
	}

	ec2Cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		klog.Fatalf("load AWS config: %v", err)
	}
	pricingCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awscatalog.PricingRegion))
	if err != nil {
		klog.Fatalf("load AWS config: %v", err)
	}

	s := &awscatalog.Syncer{
		EC2:      ec2.NewFromConfig(ec2Cfg),
		Pricing:  pricing.NewFromConfig(pricingCfg),
		Repo:     repo,
		Families: families,
		Throttle: 200 * time.Millisecond,
	}
	res, err := s.Sync(ctx, regions)
	if err != nil {
		klog.Fatalf("catalog sync: %v", err)
	}
	klog.InfoS("catalog sync complete",
		"regions", strings.Join(regions, ","),
		"instanceTypes", res.InstanceTypes,
		"pricesUpdated", res.PricesUpdated,
		"pricesFailed", res.PricesFailed,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
