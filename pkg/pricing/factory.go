package pricing

import (
	"context"
	"fmt"
	"time"
)

// NewProvider creates a pricing provider based on config or the resource
// identity. A region in the ARN wins over the configured one.
func NewProvider(ctx context.Context, resourceID string, config *Config) (Provider, string, error) {
	provider := config.Provider
	region := config.Region

	if provider == "" {
		var detectedRegion string
		provider, detectedRegion = DetectProvider(resourceID)
		if detectedRegion != "" {
			region = detectedRegion
		}
	}

	switch provider {
	case "aws":
		return NewAWSProvider(region), region, nil
	case "custom":
		return NewCustomProvider(config.UnitPrice, config.StaticInvocationCost), region, nil
	case "default":
		if config.UnitPrice != 0 || config.StaticInvocationCost != 0 {
			return NewCustomProvider(config.UnitPrice, config.StaticInvocationCost), region, nil
		}
		return NewAWSProvider(region), region, nil
	default:
		return nil, "", fmt.Errorf("unknown provider: %s", provider)
	}
}

// Resolver resolves rates per resource and caches them by provider, region
// and architecture for the life of the process.
type Resolver struct {
	config *Config
	cache  *PriceCache
	build  func(ctx context.Context, resourceID string, config *Config) (Provider, string, error)
}

func NewResolver(config *Config, ttl time.Duration) *Resolver {
	return &Resolver{
		config: config,
		cache:  NewPriceCache(ttl),
		build:  NewProvider,
	}
}

// Resolve returns the rates that bill resourceID.
func (r *Resolver) Resolve(ctx context.Context, resourceID string) (Rates, error) {
	provider, region, err := r.build(ctx, resourceID, r.config)
	if err != nil {
		return Rates{}, err
	}

	key := provider.Name() + "/" + region + "/" + r.config.Architecture
	if rates, ok := r.cache.Get(key); ok {
		return rates, nil
	}

	rates, err := provider.GetRates(ctx, region, r.config.Architecture)
	if err != nil {
		return Rates{}, fmt.Errorf("failed to resolve %s rates: %w", provider.Name(), err)
	}
	r.cache.Set(key, rates)
	return rates, nil
}
