package storage

import (
	"context"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/repository"
)

// Store defines the interface for persistent storage: the model repository
// plus the history of sampling runs.
type Store interface {
	repository.Repository

	SaveRun(ctx context.Context, run *models.SamplingRun) error
	ListRuns(ctx context.Context, functionID string, limit int) ([]*models.SamplingRun, error)

	Ping(ctx context.Context) error
	Close() error
}
