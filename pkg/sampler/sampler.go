// Package sampler measures a function at a set of memory sizes.
package sampler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/metrics"
	"github.com/opscart/lambda-sizer/pkg/models"
)

// LogSink persists measurement logs under a name such as "raw_512MB" or "avg".
type LogSink interface {
	SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error
}

type Config struct {
	RunsPerSize int
	// ColdStartRetries is how many extra invocations a cold start may
	// trigger. The last attempt is kept whether it was warm or not.
	ColdStartRetries int
}

func DefaultConfig() Config {
	return Config{RunsPerSize: 5, ColdStartRetries: 1}
}

// Result holds one averaged log per memory size, every kept sample, and the
// cost of every invocation made, discarded ones included.
type Result struct {
	Averages  []models.ExecutionLog
	Raw       []models.ExecutionLog
	TotalCost float64
}

type Sampler struct {
	config  Config
	sink    LogSink
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func New(config Config, sink LogSink, m *metrics.Metrics, logger zerolog.Logger) *Sampler {
	if config.RunsPerSize <= 0 {
		config.RunsPerSize = DefaultConfig().RunsPerSize
	}
	if config.ColdStartRetries < 0 {
		config.ColdStartRetries = 0
	}
	return &Sampler{config: config, sink: sink, metrics: m, logger: logger}
}

func (s *Sampler) Config() Config {
	return s.config
}

// Sample invokes f RunsPerSize times at each memory size, strictly in
// sequence, and restores the function's original memory before returning.
func (s *Sampler) Sample(ctx context.Context, f *function.Function, memorySizes []int, payload []byte) (result *Result, err error) {
	if len(memorySizes) == 0 {
		return nil, fmt.Errorf("no memory sizes to sample")
	}

	initialMemory, err := f.MemorySize(ctx, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		// restore even when ctx is already cancelled
		if restoreErr := f.SetMemorySize(context.WithoutCancel(ctx), initialMemory); restoreErr != nil {
			s.logger.Error().Err(restoreErr).Int("memory", initialMemory).Msg("Failed to restore memory size")
			if err == nil {
				err = restoreErr
			}
		}
	}()

	result = &Result{}
	for _, memory := range memorySizes {
		s.logger.Info().Str("function", f.ID()).Int("memory", memory).Msg("Running function")

		alias, err := f.EnsureMemoryConfig(ctx, memory)
		if err != nil {
			return nil, err
		}

		logs := make([]models.ExecutionLog, 0, s.config.RunsPerSize)
		for i := 0; i < s.config.RunsPerSize; i++ {
			log, cost, err := s.execute(ctx, f, alias, payload)
			if err != nil {
				return nil, err
			}
			logs = append(logs, log)
			result.TotalCost += cost
		}

		if err := s.save(ctx, f.ID(), "raw_"+alias, logs); err != nil {
			return nil, err
		}
		result.Raw = append(result.Raw, logs...)
		result.Averages = append(result.Averages, average(f, memory, logs))
	}

	if err := s.save(ctx, f.ID(), "avg", result.Averages); err != nil {
		return nil, err
	}
	return result, nil
}

// execute takes one sample, re-invoking on cold starts within the retry
// budget. cost includes the discarded attempts.
func (s *Sampler) execute(ctx context.Context, f *function.Function, alias string, payload []byte) (models.ExecutionLog, float64, error) {
	var cost float64
	for attempt := 0; ; attempt++ {
		inv, err := f.Invoke(ctx, alias, payload)
		if err != nil {
			return models.ExecutionLog{}, cost, err
		}
		s.metrics.ObserveInvocation(f.ID(), inv.ExecutionLog, inv.Failed)
		cost += inv.Cost

		if !inv.ColdStart() || attempt >= s.config.ColdStartRetries {
			return inv.ExecutionLog, cost, nil
		}
		s.logger.Info().Str("alias", alias).Stringer("log", inv.ExecutionLog).Msg("Dropping execution due to cold start")
	}
}

func (s *Sampler) save(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error {
	if s.sink == nil {
		return nil
	}
	if err := s.sink.SaveLogs(ctx, functionID, name, logs); err != nil {
		return fmt.Errorf("failed to save %s logs: %w", name, err)
	}
	return nil
}

func average(f *function.Function, memory int, logs []models.ExecutionLog) models.ExecutionLog {
	var duration, billed float64
	for _, log := range logs {
		duration += log.Duration
		billed += log.BilledDuration
	}
	n := float64(len(logs))
	return f.Rates().Log(duration/n, billed/n, memory, 0)
}
