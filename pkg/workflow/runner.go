package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

// ErrExecutionFailed is returned when an execution ends in any state other
// than success.
var ErrExecutionFailed = errors.New("workflow execution failed")

// ExecutionLog is the measured latency (ms) and cost of one execution.
type ExecutionLog struct {
	ExecutionID string
	Duration    float64
	Cost        float64
}

// RunSink persists execution logs under a name such as "raw" or "avg".
type RunSink interface {
	SaveRuns(ctx context.Context, stateMachineID, name string, logs []ExecutionLog) error
}

type RunnerConfig struct {
	// Runs includes the first execution, which is discarded as cold.
	Runs         int
	PollInterval time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Runs: 6, PollInterval: 10 * time.Second}
}

// RunResult holds the kept executions and their average.
type RunResult struct {
	Runs    []ExecutionLog
	Average ExecutionLog
}

// Runner executes a state machine with its functions pinned to fixed
// memory sizes and measures every execution.
type Runner struct {
	config    RunnerConfig
	client    Client
	functions function.Client
	reports   function.ReportSource
	rates     pricing.Rates
	sink      RunSink
	logger    zerolog.Logger
}

func NewRunner(config RunnerConfig, client Client, functions function.Client, reports function.ReportSource, rates pricing.Rates, sink RunSink, logger zerolog.Logger) *Runner {
	defaults := DefaultRunnerConfig()
	if config.Runs <= 0 {
		config.Runs = defaults.Runs
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	return &Runner{
		config:    config,
		client:    client,
		functions: functions,
		reports:   reports,
		rates:     rates,
		sink:      sink,
		logger:    logger,
	}
}

// Run sets every function in sizes to its memory size, then executes the
// state machine Runs times in sequence.
func (r *Runner) Run(ctx context.Context, stateMachineID string, sizes map[string]int, payload []byte) (*RunResult, error) {
	if r.config.Runs < 2 {
		return nil, fmt.Errorf("at least 2 runs are needed, got %d", r.config.Runs)
	}
	if err := r.setMemorySizes(ctx, sizes); err != nil {
		return nil, err
	}

	result := &RunResult{}
	for i := 0; i < r.config.Runs; i++ {
		log, err := r.Execute(ctx, stateMachineID, payload)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			r.logger.Info().Str("execution", log.ExecutionID).Msg("Ignoring first run due to cold start")
			continue
		}
		result.Runs = append(result.Runs, log)
	}

	n := float64(len(result.Runs))
	for _, log := range result.Runs {
		result.Average.Duration += log.Duration / n
		result.Average.Cost += log.Cost / n
	}
	r.logger.Info().
		Float64("duration_ms", result.Average.Duration).
		Float64("cost", result.Average.Cost).
		Msg("Workflow runs complete")

	if r.sink != nil {
		if err := r.sink.SaveRuns(ctx, stateMachineID, "raw", result.Runs); err != nil {
			return nil, fmt.Errorf("failed to save raw runs: %w", err)
		}
		if err := r.sink.SaveRuns(ctx, stateMachineID, "avg", []ExecutionLog{result.Average}); err != nil {
			return nil, fmt.Errorf("failed to save average run: %w", err)
		}
	}
	return result, nil
}

func (r *Runner) setMemorySizes(ctx context.Context, sizes map[string]int) error {
	ids := make([]string, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		f := function.New(id, r.functions, r.rates, r.logger)
		if err := f.SetMemorySize(ctx, sizes[id]); err != nil {
			return fmt.Errorf("failed to set memory size of %s: %w", id, err)
		}
	}
	return nil
}

// Execute starts one execution, blocks until it finishes and measures it.
// Polling has no deadline of its own; cancel ctx to give up.
func (r *Runner) Execute(ctx context.Context, stateMachineID string, payload []byte) (ExecutionLog, error) {
	executionID, err := r.client.StartExecution(ctx, stateMachineID, payload)
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("failed to start execution: %w", err)
	}
	r.logger.Info().Str("execution", executionID).Msg("Waiting for execution to finish")

	var events []Event
	err = wait.PollUntilContextCancel(ctx, r.config.PollInterval, false, func(ctx context.Context) (bool, error) {
		events, err = r.client.GetExecutionHistory(ctx, executionID)
		if err != nil {
			return false, fmt.Errorf("failed to get execution history: %w", err)
		}
		if len(events) == 0 {
			return false, nil
		}
		switch last := events[len(events)-1].Type; last {
		case EventExecutionSucceeded:
			return true, nil
		case EventExecutionFailed, EventExecutionAborted, EventExecutionTimedOut:
			return false, fmt.Errorf("%w: %s ended with %s", ErrExecutionFailed, executionID, last)
		}
		r.logger.Debug().Str("execution", executionID).Msg("Execution still running")
		return false, nil
	})
	if err != nil {
		return ExecutionLog{}, err
	}

	// reports reach the log streams after the execution completes
	if err := sleep(ctx, r.config.PollInterval); err != nil {
		return ExecutionLog{}, err
	}

	cost, err := r.cost(ctx, events)
	if err != nil {
		return ExecutionLog{}, err
	}

	execution, err := r.client.DescribeExecution(ctx, executionID)
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("failed to describe execution: %w", err)
	}
	duration := float64(execution.Stop.Sub(execution.Start)) / float64(time.Millisecond)

	r.logger.Info().
		Str("execution", executionID).
		Float64("duration_ms", duration).
		Float64("cost", cost).
		Msg("Execution measured")
	return ExecutionLog{ExecutionID: executionID, Duration: duration, Cost: cost}, nil
}

// cost sums the latest report of every scheduled function.
func (r *Runner) cost(ctx context.Context, events []Event) (float64, error) {
	var total float64
	for _, e := range events {
		scheduled := e.Type == EventLambdaFunctionScheduled || e.Type == EventTaskScheduled
		if !scheduled || e.Resource == "" {
			continue
		}
		report, found, err := r.reports.LatestReport(ctx, e.Resource)
		if err != nil {
			return 0, err
		}
		if !found {
			r.logger.Warn().Str("function", e.Resource).Msg("Execution log not found")
			continue
		}
		log, err := function.ParseReport(report, r.rates)
		if err != nil {
			return 0, err
		}
		total += log.Cost
	}
	return total, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
