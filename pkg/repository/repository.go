// Package repository persists fitted performance model parameters keyed by
// function identity.
package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

// Repository stores at most one parameter set per base identity; the last
// Save wins. A missing entry is reported as found == false, not as an error.
type Repository interface {
	Load(ctx context.Context, functionID string) (*models.ModelParams, bool, error)
	Save(ctx context.Context, functionID string, params models.ModelParams) error
}

var memoryQualifier = regexp.MustCompile(`:[0-9]+MB$`)

// BaseIdentity strips a memory-size alias such as ":512MB" so every alias
// of a function shares one model.
func BaseIdentity(functionID string) string {
	return memoryQualifier.ReplaceAllString(functionID, "")
}

// LoadedModels is the result of a batch load. Models follow the order of
// the requested identities; Missing lists identities without a model.
type LoadedModels struct {
	IDs     []string
	Models  []*perfmodel.Model
	Missing []string
}

// ByID indexes the loaded models by base identity.
func (l *LoadedModels) ByID() map[string]*perfmodel.Model {
	index := make(map[string]*perfmodel.Model, len(l.IDs))
	for i, id := range l.IDs {
		index[id] = l.Models[i]
	}
	return index
}

// LoadModels loads every identity, skipping the ones without a model.
// Only storage errors abort the batch.
func LoadModels(ctx context.Context, repo Repository, functionIDs []string, rates pricing.Rates, logger zerolog.Logger) (*LoadedModels, error) {
	loaded := &LoadedModels{}
	for _, id := range functionIDs {
		id = BaseIdentity(id)
		params, found, err := repo.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load model for %s: %w", id, err)
		}
		if !found {
			logger.Warn().Str("function", id).Msg("Model not found")
			loaded.Missing = append(loaded.Missing, id)
			continue
		}
		loaded.IDs = append(loaded.IDs, id)
		loaded.Models = append(loaded.Models, perfmodel.New(*params, rates))
	}
	return loaded, nil
}
