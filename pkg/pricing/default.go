package pricing

import (
	"context"
)

// CustomProvider serves fixed rates, e.g. negotiated prices or another
// provider with the same billing shape.
type CustomProvider struct {
	rates Rates
}

func NewCustomProvider(unitPrice, staticCost float64) *CustomProvider {
	defaults := DefaultRates()
	if unitPrice == 0 {
		unitPrice = defaults.UnitPrice
	}
	if staticCost == 0 {
		staticCost = defaults.StaticInvocationCost
	}
	return &CustomProvider{
		rates: Rates{
			UnitPrice:            unitPrice,
			BaseMemoryMB:         BaseMemoryMB,
			StaticInvocationCost: staticCost,
		},
	}
}

func (c *CustomProvider) Name() string {
	return "custom"
}

func (c *CustomProvider) GetRates(ctx context.Context, region, architecture string) (Rates, error) {
	return c.rates, nil
}
