package sizer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/function/functiontest"
	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/repository"
	"github.com/opscart/lambda-sizer/pkg/sampler"
)

const arn = "arn:aws:lambda:us-east-1:123456789012:function:resize"

var curve = models.ModelParams{T0: 900, DecayRate: 0.002, TMin: 120}

func testModel() *perfmodel.Model {
	return perfmodel.New(curve, pricing.DefaultRates())
}

func defaultGrid(t *testing.T) []int {
	t.Helper()
	grid, err := Grid(128, 3008, 64)
	require.NoError(t, err)
	return grid
}

func TestGrid(t *testing.T) {
	grid, err := Grid(128, 3008, 64)
	require.NoError(t, err)
	assert.Len(t, grid, 46)
	assert.Equal(t, 128, grid[0])
	assert.Equal(t, 192, grid[1])
	assert.Equal(t, 3008, grid[len(grid)-1])

	grid, err = Grid(128, 300, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{128, 228}, grid)

	_, err = Grid(128, 3008, 0)
	assert.Error(t, err)
	_, err = Grid(512, 128, 64)
	assert.Error(t, err)
}

func TestSelectSizeCheapest(t *testing.T) {
	grid := defaultGrid(t)
	result, logs, err := SelectSize(testModel(), grid, 0)
	require.NoError(t, err)
	require.Len(t, logs, len(grid))

	for _, log := range logs {
		assert.GreaterOrEqual(t, log.Cost, result.Cost, "memory %d is cheaper than the selection", log.MemorySize)
		if log.Cost == result.Cost {
			assert.GreaterOrEqual(t, log.Duration, result.Duration)
		}
	}
}

func TestSelectSizeFastest(t *testing.T) {
	grid := defaultGrid(t)
	result, logs, err := SelectSize(testModel(), grid, 1)
	require.NoError(t, err)

	for _, log := range logs {
		assert.GreaterOrEqual(t, log.Duration, result.Duration)
	}
	assert.Equal(t, 3008, result.MemorySize)
}

func TestSelectSizeWeighted(t *testing.T) {
	grid := defaultGrid(t)
	model := testModel()
	result, logs, err := SelectSize(model, grid, 0.5)
	require.NoError(t, err)

	var maxCost, maxDuration float64
	for _, log := range logs {
		maxCost = math.Max(maxCost, log.Cost)
		maxDuration = math.Max(maxDuration, log.Duration)
	}
	score := func(cost, duration float64) float64 {
		return 0.5*cost/maxCost + 0.5*duration/maxDuration
	}
	best := score(result.Cost, result.Duration)
	for _, log := range logs {
		assert.GreaterOrEqual(t, score(log.Cost, log.Duration), best)
	}
}

func TestSelectSizeWeightedLimits(t *testing.T) {
	grid := defaultGrid(t)
	model := testModel()

	cheapest, _, err := SelectSize(model, grid, 0)
	require.NoError(t, err)
	fastest, _, err := SelectSize(model, grid, 1)
	require.NoError(t, err)

	// The weight scales the cost term, so a weight near 1 approaches the
	// cheapest pick and a weight near 0 the fastest.
	nearOne, _, err := SelectSize(model, grid, 1-1e-9)
	require.NoError(t, err)
	nearZero, _, err := SelectSize(model, grid, 1e-9)
	require.NoError(t, err)

	assert.Equal(t, cheapest.MemorySize, nearOne.MemorySize)
	assert.Equal(t, fastest.MemorySize, nearZero.MemorySize)
}

func TestSelectSizeRejectsBadInput(t *testing.T) {
	_, _, err := SelectSize(testModel(), []int{128}, 1.5)
	assert.True(t, errors.Is(err, ErrInvalidWeight))

	_, _, err = SelectSize(testModel(), nil, 0.5)
	assert.Error(t, err)
}

type recordingHistory struct {
	runs []*models.SamplingRun
}

func (h *recordingHistory) SaveRun(ctx context.Context, run *models.SamplingRun) error {
	h.runs = append(h.runs, run)
	return nil
}

func curveResponder(alias string, memory, n int) (string, error) {
	d := curve.T0*math.Exp(-curve.DecayRate*float64(memory)) + curve.TMin
	return functiontest.Report(d, int(math.Ceil(d)), memory, 0), nil
}

func TestTunerConfigure(t *testing.T) {
	ctx := context.Background()
	client := functiontest.NewFakeClient(128, 3, curveResponder)
	f := function.New(arn, client, pricing.DefaultRates(), zerolog.Nop())

	repo := repository.NewFileRepository(filepath.Join(t.TempDir(), "models.json"))
	history := &recordingHistory{}
	s := sampler.New(sampler.Config{RunsPerSize: 2, ColdStartRetries: 1}, nil, nil, zerolog.Nop())

	tuner := NewTuner(TunerConfig{
		MemorySizes: []int{128, 512, 1024, 2048, 3008},
		Candidates:  defaultGrid(t),
		Weight:      0,
		Cleanup:     true,
		Fit:         perfmodel.DefaultFitOptions(),
	}, s, repo, history, nil, zerolog.Nop())

	report, err := tuner.Configure(ctx, f, []byte(`{}`))
	require.NoError(t, err)

	assert.InDelta(t, curve.DecayRate, report.Params.DecayRate, 2e-4)
	assert.InDelta(t, curve.TMin, report.Params.TMin, 2)
	assert.Greater(t, report.SamplingCost, 0.0)
	assert.Len(t, report.Predictions, 46)

	saved, found, err := repo.Load(ctx, arn+":512MB")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, report.Params, *saved)

	require.Len(t, history.runs, 1)
	assert.Equal(t, 2, history.runs[0].RunsPerSize)
	assert.Equal(t, report.Result, *history.runs[0].Result)

	assert.Len(t, client.Deleted, 5, "cleanup removes every sampling alias")
	assert.Equal(t, 128, client.Memory, "memory restored after sampling")
}

func TestTunerConfigureFromLogs(t *testing.T) {
	rates := pricing.DefaultRates()
	model := testModel()
	var averages []models.ExecutionLog
	for _, size := range []int{128, 512, 1024, 2048, 3008} {
		averages = append(averages, model.Predict(size))
	}

	repo := repository.NewFileRepository(filepath.Join(t.TempDir(), "models.json"))
	tuner := NewTuner(TunerConfig{
		Candidates: defaultGrid(t),
		Weight:     1,
		Fit:        perfmodel.DefaultFitOptions(),
	}, nil, repo, nil, nil, zerolog.Nop())

	report, err := tuner.ConfigureFromLogs(context.Background(), arn, rates, averages)
	require.NoError(t, err)
	assert.Equal(t, 3008, report.Result.MemorySize)
	assert.Zero(t, report.SamplingCost)
}

func TestTunerFitFailure(t *testing.T) {
	repo := repository.NewFileRepository(filepath.Join(t.TempDir(), "models.json"))
	tuner := NewTuner(TunerConfig{
		Candidates: []int{128},
		Fit:        perfmodel.DefaultFitOptions(),
	}, nil, repo, nil, nil, zerolog.Nop())

	_, err := tuner.ConfigureFromLogs(context.Background(), arn, pricing.DefaultRates(), []models.ExecutionLog{{MemorySize: 128}})
	var fitErr *perfmodel.FitError
	assert.True(t, errors.As(err, &fitErr))

	_, found, err := repo.Load(context.Background(), arn)
	require.NoError(t, err)
	assert.False(t, found, "a failed fit leaves the repository untouched")
}
