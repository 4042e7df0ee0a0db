// Package awscatalog syncs accelerator instance types and their prices from
// the EC2 and Pricing APIs into the database, so training runs can carry a
// cost per sample next to their MFU.
package awscatalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/accelbench/trainmetrics/internal/database"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// DefaultFamilies are the accelerator families synced when none are given.
var DefaultFamilies = []string{"p4d", "p4de", "p5", "p5e", "p5en"}

// gpuKeys maps EC2 GPU names to accelerator keys in the reference table.
var gpuKeys = map[string]string{
	"h100": "h100",
	"h200": "h100",
	"a100": "a100",
}

// AcceleratorKey returns the reference-table key for an EC2 GPU name, or ""
// when the accelerator has no peak throughput entry.
func AcceleratorKey(gpuName string) string {
	return gpuKeys[strings.ToLower(strings.TrimSpace(gpuName))]
}

// Family returns the family prefix of an instance type name ("p5.48xlarge" → "p5").
func Family(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// InstanceFromEC2 converts an EC2 instance type description. It returns nil
// for instance types without GPUs.
func InstanceFromEC2(info types.InstanceTypeInfo) *database.InstanceType {
	if info.GpuInfo == nil || len(info.GpuInfo.Gpus) == 0 {
		return nil
	}
	gpu := info.GpuInfo.Gpus[0]
	name := string(info.InstanceType)

	it := &database.InstanceType{
		Name:            name,
		Family:          Family(name),
		AcceleratorName: aws.ToString(gpu.Name),
	}
	for _, g := range info.GpuInfo.Gpus {
		it.AcceleratorCount += int(aws.ToInt32(g.Count))
	}
	if info.GpuInfo.TotalGpuMemoryInMiB != nil {
		it.AcceleratorMemoryGiB = int(*info.GpuInfo.TotalGpuMemoryInMiB / 1024)
	}
	if info.VCpuInfo != nil {
		it.VCPUs = int(aws.ToInt32(info.VCpuInfo.DefaultVCpus))
	}
	if info.MemoryInfo != nil {
		it.MemoryGiB = int(aws.ToInt64(info.MemoryInfo.SizeInMiB) / 1024)
	}
	if key := AcceleratorKey(it.AcceleratorName); key != "" {
		it.AcceleratorKey = &key
	}
	return it
}

// DescribeInstances lists the GPU instance types of the given families.
func DescribeInstances(ctx context.Context, client ec2.DescribeInstanceTypesAPIClient, families []string) ([]database.InstanceType, error) {
	if len(families) == 0 {
		families = DefaultFamilies
	}
	patterns := make([]string, len(families))
	for i, f := range families {
		patterns[i] = f + ".*"
	}

	input := &ec2.DescribeInstanceTypesInput{
		Filters: []types.Filter{
			{Name: aws.String("instance-type"), Values: patterns},
		},
	}
	var out []database.InstanceType
	pager := ec2.NewDescribeInstanceTypesPaginator(client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instance types: %w", err)
		}
		for _, info := range page.InstanceTypes {
			if it := InstanceFromEC2(info); it != nil {
				out = append(out, *it)
			}
		}
	}
	return out, nil
}
