package sizer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/metrics"
	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/repository"
	"github.com/opscart/lambda-sizer/pkg/sampler"
)

// History records sampling runs. Optional.
type History interface {
	SaveRun(ctx context.Context, run *models.SamplingRun) error
}

// TunerConfig controls one tuning pass.
type TunerConfig struct {
	// MemorySizes are sampled live.
	MemorySizes []int
	// Candidates are evaluated against the fitted model only.
	Candidates []int
	Weight     float64
	Cleanup    bool
	Fit        perfmodel.FitOptions
}

// Report is the outcome of tuning one function.
type Report struct {
	FunctionID   string
	Result       models.SizingResult
	Params       models.ModelParams
	Predictions  []models.ExecutionLog
	Averages     []models.ExecutionLog
	SamplingCost float64
}

// Tuner samples a function, fits its model, stores it and selects a size.
type Tuner struct {
	config  TunerConfig
	sampler *sampler.Sampler
	repo    repository.Repository
	history History
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewTuner(config TunerConfig, s *sampler.Sampler, repo repository.Repository, history History, m *metrics.Metrics, logger zerolog.Logger) *Tuner {
	return &Tuner{
		config:  config,
		sampler: s,
		repo:    repo,
		history: history,
		metrics: m,
		logger:  logger,
	}
}

// Configure runs the full pipeline against the live function.
func (t *Tuner) Configure(ctx context.Context, f *function.Function, payload []byte) (*Report, error) {
	if t.sampler == nil {
		return nil, fmt.Errorf("no sampler configured")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	sampled, err := t.sampler.Sample(ctx, f, t.config.MemorySizes, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", f.ID(), err)
	}
	t.logger.Info().
		Str("function", f.ID()).
		Float64("sampling_cost", sampled.TotalCost).
		Msg("Sampling complete")

	report, err := t.configure(ctx, f.ID(), f.Rates(), sampled.Averages)
	if err != nil {
		return nil, err
	}
	report.SamplingCost = sampled.TotalCost

	if t.config.Cleanup {
		if err := f.DeleteAllAliases(ctx); err != nil {
			return nil, fmt.Errorf("failed to clean up aliases: %w", err)
		}
	}

	if err := t.record(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ConfigureFromLogs fits previously averaged logs instead of sampling.
func (t *Tuner) ConfigureFromLogs(ctx context.Context, functionID string, rates pricing.Rates, averages []models.ExecutionLog) (*Report, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t.configure(ctx, functionID, rates, averages)
}

func (t *Tuner) validate() error {
	if t.config.Weight < 0 || t.config.Weight > 1 {
		return fmt.Errorf("%w, got %g", ErrInvalidWeight, t.config.Weight)
	}
	if len(t.config.Candidates) == 0 {
		return fmt.Errorf("no candidate memory sizes")
	}
	return nil
}

func (t *Tuner) configure(ctx context.Context, functionID string, rates pricing.Rates, averages []models.ExecutionLog) (*Report, error) {
	params, err := perfmodel.Fit(perfmodel.PointsFromLogs(averages), t.config.Fit)
	t.metrics.ObserveFit(err)
	if err != nil {
		return nil, err
	}
	t.logger.Info().
		Str("function", functionID).
		Float64("t0", params.T0).
		Float64("decay_rate", params.DecayRate).
		Float64("t_min", params.TMin).
		Msg("Model fitted")

	if err := t.repo.Save(ctx, functionID, params); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}

	result, predictions, err := SelectSize(perfmodel.New(params, rates), t.config.Candidates, t.config.Weight)
	if err != nil {
		return nil, err
	}
	t.logger.Info().
		Str("function", functionID).
		Int("memory", result.MemorySize).
		Float64("cost", result.Cost).
		Float64("duration", result.Duration).
		Msg("Size selected")

	return &Report{
		FunctionID:  functionID,
		Result:      result,
		Params:      params,
		Predictions: predictions,
		Averages:    averages,
	}, nil
}

func (t *Tuner) record(ctx context.Context, report *Report) error {
	if t.history == nil {
		return nil
	}
	params := report.Params
	result := report.Result
	run := &models.SamplingRun{
		FunctionID:   report.FunctionID,
		MemorySizes:  t.config.MemorySizes,
		RunsPerSize:  t.sampler.Config().RunsPerSize,
		SamplingCost: report.SamplingCost,
		Params:       &params,
		Result:       &result,
		Averages:     report.Averages,
		CreatedAt:    time.Now(),
	}
	if err := t.history.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record sampling run: %w", err)
	}
	return nil
}
