package awscatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// PricingRegion is the only region serving the AWS Pricing API.
const PricingRegion = "us-east-1"

const (
	hoursPerYear      = 8760
	hoursPerThreeYear = 26280
)

// PricingAPI is the subset of the Pricing client used here.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Price is the hourly cost of one instance in one region.
type Price struct {
	OnDemandHourlyUSD    float64
	Reserved1YrHourlyUSD *float64
	Reserved3YrHourlyUSD *float64
}

// FetchPrice looks up Linux shared-tenancy pricing for an instance type.
func FetchPrice(ctx context.Context, client PricingAPI, instanceType, region string) (*Price, error) {
	input := &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			termMatch("instanceType", instanceType),
			termMatch("operatingSystem", "Linux"),
			termMatch("tenancy", "Shared"),
			termMatch("preInstalledSw", "NA"),
			termMatch("capacitystatus", "Used"),
			termMatch("regionCode", region),
		},
		MaxResults: aws.Int32(10),
	}

	resp, err := client.GetProducts(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("GetProducts: %w", err)
	}
	if len(resp.PriceList) == 0 {
		return nil, fmt.Errorf("no pricing found for %s in %s", instanceType, region)
	}
	return ParsePriceDoc([]byte(resp.PriceList[0]))
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Type:  pricingtypes.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// priceDoc is the relevant structure of one Pricing API price list entry.
type priceDoc struct {
	Terms struct {
		OnDemand map[string]termEntry `json:"OnDemand"`
		Reserved map[string]termEntry `json:"Reserved"`
	} `json:"terms"`
}

type termEntry struct {
	PriceDimensions map[string]priceDimension `json:"priceDimensions"`
	TermAttributes  map[string]string         `json:"termAttributes"`
}

type priceDimension struct {
	Unit         string            `json:"unit"`
	PricePerUnit map[string]string `json:"pricePerUnit"`
}

// ParsePriceDoc extracts the on-demand hourly rate and the effective hourly
// rate of standard All Upfront reservations from a price list entry.
func ParsePriceDoc(raw []byte) (*Price, error) {
	var doc priceDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse price list: %w", err)
	}
	onDemand, err := extractOnDemand(doc.Terms.OnDemand)
	if err != nil {
		return nil, fmt.Errorf("on-demand: %w", err)
	}
	return &Price{
		OnDemandHourlyUSD:    onDemand,
		Reserved1YrHourlyUSD: extractReserved(doc.Terms.Reserved, "1yr"),
		Reserved3YrHourlyUSD: extractReserved(doc.Terms.Reserved, "3yr"),
	}, nil
}

func extractOnDemand(terms map[string]termEntry) (float64, error) {
	for _, term := range terms {
		for _, pd := range term.PriceDimensions {
			if pd.Unit != "Hrs" {
				continue
			}
			usd, ok := pd.PricePerUnit["USD"]
			if !ok {
				continue
			}
			return strconv.ParseFloat(usd, 64)
		}
	}
	return 0, fmt.Errorf("no hourly on-demand price found")
}

// extractReserved returns the upfront fee spread over the lease hours.
func extractReserved(terms map[string]termEntry, lease string) *float64 {
	hours := float64(hoursPerYear)
	if lease == "3yr" {
		hours = hoursPerThreeYear
	}
	for _, term := range terms {
		attrs := term.TermAttributes
		if attrs["LeaseContractLength"] != lease ||
			attrs["PurchaseOption"] != "All Upfront" ||
			attrs["OfferingClass"] != "standard" {
			continue
		}
		for _, pd := range term.PriceDimensions {
			if pd.Unit != "Quantity" {
				continue
			}
			upfront, err := strconv.ParseFloat(pd.PricePerUnit["USD"], 64)
			if err != nil || upfront <= 0 {
				continue
			}
			hourly := upfront / hours
			return &hourly
		}
	}
	return nil
}
