package pricing

import (
	"context"
	"fmt"
)

const (
	ArchX86   = "x86_64"
	ArchARM64 = "arm64"

	// BaseMemoryMB is the smallest billable memory configuration.
	BaseMemoryMB = 128
	// StaticInvocationCost is the request charge ($0.20 per 1M requests).
	StaticInvocationCost = 0.0000002
)

// Price per ms at 128 MB, first pricing tier.
var awsUnitPrices = map[string]float64{
	ArchX86:   0.0000000021,
	ArchARM64: 0.0000000017,
}

// AWSProvider implements AWS Lambda on-demand pricing
type AWSProvider struct {
	region string
}

func NewAWSProvider(region string) *AWSProvider {
	return &AWSProvider{region: region}
}

func (a *AWSProvider) Name() string {
	return "aws"
}

func (a *AWSProvider) GetRates(ctx context.Context, region, architecture string) (Rates, error) {
	if architecture == "" {
		architecture = ArchX86
	}

	// Regional price differences are below the billing precision we model.
	unit, ok := awsUnitPrices[architecture]
	if !ok {
		return Rates{}, fmt.Errorf("unknown architecture: %s", architecture)
	}

	return Rates{
		UnitPrice:            unit,
		BaseMemoryMB:         BaseMemoryMB,
		StaticInvocationCost: StaticInvocationCost,
	}, nil
}

// DefaultRates are the x86_64 AWS rates, used when nothing is configured.
func DefaultRates() Rates {
	return Rates{
		UnitPrice:            awsUnitPrices[ArchX86],
		BaseMemoryMB:         BaseMemoryMB,
		StaticInvocationCost: StaticInvocationCost,
	}
}
