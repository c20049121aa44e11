package pricing

import (
	"context"

	"github.com/opscart/lambda-sizer/pkg/models"
)

// Rates describes how a provider bills one invocation.
type Rates struct {
	UnitPrice            float64 // USD per billed ms at BaseMemoryMB
	BaseMemoryMB         int
	StaticInvocationCost float64 // USD per request
}

// Cost returns the price of one invocation billed for billedMs at memoryMB.
func (r Rates) Cost(memoryMB int, billedMs float64) float64 {
	return r.UnitPrice*(float64(memoryMB)/float64(r.BaseMemoryMB))*billedMs + r.StaticInvocationCost
}

// BaseCost is the price of one ms of execution at memoryMB, without the
// request charge. Memory may be fractional while an optimizer searches.
func (r Rates) BaseCost(memoryMB float64) float64 {
	return r.UnitPrice * (memoryMB / float64(r.BaseMemoryMB))
}

// Log builds an execution log whose cost is derived from these rates.
func (r Rates) Log(duration, billed float64, memoryMB int, initDuration float64) models.ExecutionLog {
	return models.ExecutionLog{
		Duration:       duration,
		BilledDuration: billed,
		MemorySize:     memoryMB,
		InitDuration:   initDuration,
		Cost:           r.Cost(memoryMB, billed),
	}
}

// Provider defines the interface for serverless pricing data
type Provider interface {
	GetRates(ctx context.Context, region, architecture string) (Rates, error)
	Name() string
}

type Config struct {
	Provider             string
	Region               string
	Architecture         string
	UnitPrice            float64
	StaticInvocationCost float64
}
