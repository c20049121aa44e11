package perfmodel

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

var testParams = models.ModelParams{T0: 5000, DecayRate: 0.004, TMin: 100}

func TestDurationDecreasesTowardsTMin(t *testing.T) {
	m := New(testParams, pricing.DefaultRates())

	prev := m.Duration(128)
	for memory := 192.0; memory <= 10240; memory += 64 {
		d := m.Duration(memory)
		assert.Less(t, d, prev, "duration must strictly decrease at %v MB", memory)
		assert.GreaterOrEqual(t, d, testParams.TMin)
		prev = d
	}
	assert.InDelta(t, testParams.TMin, m.Duration(10240), 1e-9)
}

func TestCostBillsRoundedDuration(t *testing.T) {
	rates := pricing.DefaultRates()
	m := New(models.ModelParams{T0: 0, DecayRate: 0, TMin: 10.2}, rates)

	duration, cost := m.Evaluate(256)
	assert.InDelta(t, 10.2, duration, 1e-12)
	assert.InDelta(t, rates.Cost(256, 11), cost, 1e-18)

	log := m.Predict(256)
	assert.Equal(t, 11.0, log.BilledDuration)
	assert.Equal(t, cost, log.Cost)
	assert.False(t, log.ColdStart())
}

func TestCostAndDurationNonNegative(t *testing.T) {
	m := New(testParams, pricing.DefaultRates())
	for memory := 128; memory <= 3008; memory += 64 {
		d, c := m.Evaluate(memory)
		assert.GreaterOrEqual(t, d, 0.0)
		assert.GreaterOrEqual(t, c, 0.0)
	}
}

func samplesFrom(params models.ModelParams, memories []float64) []Point {
	m := New(params, pricing.DefaultRates())
	points := make([]Point, 0, len(memories))
	for _, memory := range memories {
		points = append(points, Point{MemoryMB: memory, Value: m.Duration(memory)})
	}
	return points
}

func TestFitRecoversKnownParameters(t *testing.T) {
	memories := []float64{128, 256, 512, 1024, 2048, 3008}
	cases := []models.ModelParams{
		testParams,
		{T0: 800, DecayRate: 0.0015, TMin: 40},
		{T0: 20000, DecayRate: 0.01, TMin: 250},
	}

	for _, want := range cases {
		got, err := Fit(samplesFrom(want, memories), DefaultFitOptions())
		require.NoError(t, err)

		assert.InEpsilon(t, want.T0, got.T0, 1e-2, "t0 of %+v", want)
		assert.InEpsilon(t, want.DecayRate, got.DecayRate, 1e-2, "decay rate of %+v", want)
		assert.InEpsilon(t, want.TMin, got.TMin, 1e-2, "tMin of %+v", want)
	}
}

func TestFitIgnoresSampleOrder(t *testing.T) {
	points := samplesFrom(testParams, []float64{128, 256, 512, 1024, 2048, 3008})
	shuffled := make([]Point, len(points))
	copy(shuffled, points)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a, err := Fit(points, DefaultFitOptions())
	require.NoError(t, err)
	b, err := Fit(shuffled, DefaultFitOptions())
	require.NoError(t, err)

	assert.InDelta(t, a.DecayRate, b.DecayRate, 1e-9)
}

func TestFitRespectsBounds(t *testing.T) {
	// noisy, increasing series: the best bounded fit is flat
	points := []Point{{128, 100}, {512, 120}, {1024, 90}, {2048, 130}}

	got, err := Fit(points, DefaultFitOptions())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, got.T0, 0.0)
	assert.LessOrEqual(t, got.T0, 1e5)
	assert.GreaterOrEqual(t, got.DecayRate, 0.0)
	assert.LessOrEqual(t, got.DecayRate, 10.0)
	assert.GreaterOrEqual(t, got.TMin, 0.0)
	assert.LessOrEqual(t, got.TMin, 90.0)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit([]Point{{128, 10}, {256, 5}}, DefaultFitOptions())
	var fitErr *FitError
	require.True(t, errors.As(err, &fitErr))

	_, err = Fit([]Point{{128, 10}, {256, math.NaN()}, {512, 3}}, DefaultFitOptions())
	require.True(t, errors.As(err, &fitErr))

	_, err = Fit([]Point{{128, 10}, {256, -1}, {512, 3}}, DefaultFitOptions())
	require.True(t, errors.As(err, &fitErr))
}

func TestPointsFromLogs(t *testing.T) {
	points := PointsFromLogs([]models.ExecutionLog{
		{MemorySize: 128, Duration: 99.5, BilledDuration: 100},
	})
	require.Len(t, points, 1)
	assert.Equal(t, Point{MemoryMB: 128, Value: 100}, points[0])
}
