package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/repository"
)

const arn = "arn:aws:lambda:us-east-1:123456789012:function:resize"

var _ repository.Repository = (*PostgresStore)(nil)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestLoadStripsMemoryQualifier(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM performance_models")).
		WithArgs(arn).
		WillReturnRows(sqlmock.NewRows([]string{"t0", "decay_rate", "t_min"}).AddRow(900.0, 0.002, 120.0))

	params, found, err := store.Load(context.Background(), arn+":512MB")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.ModelParams{T0: 900, DecayRate: 0.002, TMin: 120}, *params)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingModel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM performance_models")).
		WithArgs(arn).
		WillReturnRows(sqlmock.NewRows([]string{"t0", "decay_rate", "t_min"}))

	params, found, err := store.Load(context.Background(), arn)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, params)
}

func TestSaveUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (function_id) DO UPDATE")).
		WithArgs(arn, 900.0, 0.002, 120.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), arn+":1024MB", models.ModelParams{T0: 900, DecayRate: 0.002, TMin: 120})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWritesMeasurements(t *testing.T) {
	store, mock := newMockStore(t)

	run := &models.SamplingRun{
		FunctionID:   arn,
		MemorySizes:  []int{128, 256},
		RunsPerSize:  5,
		SamplingCost: 0.0001,
		Params:       &models.ModelParams{T0: 900, DecayRate: 0.002, TMin: 120},
		Result:       &models.SizingResult{MemorySize: 256, Cost: 0.00001, Duration: 300},
		Averages: []models.ExecutionLog{
			{MemorySize: 128, Duration: 800, BilledDuration: 800, Cost: 0.000002},
			{MemorySize: 256, Duration: 300, BilledDuration: 300, Cost: 0.000001},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sampling_runs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_measurements")).
		WithArgs(sqlmock.AnyArg(), 128, 800.0, 800.0, 0.000002).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_measurements")).
		WithArgs(sqlmock.AnyArg(), 256, 300.0, 300.0, 0.000001).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sampling_runs")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.SaveRun(context.Background(), &models.SamplingRun{FunctionID: arn})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "function_id", "memory_sizes", "runs_per_size", "sampling_cost_usd",
		"t0", "decay_rate", "t_min",
		"recommended_memory", "predicted_cost_usd", "predicted_duration",
		"created_at",
	}
	rows := sqlmock.NewRows(columns).
		AddRow("b6b1f7a2-1111-4c3e-9d55-0a0a0a0a0a0a", arn, "{128,256}", 5, 0.0001,
			900.0, 0.002, 120.0, 256, 0.00001, 300.0, created).
		AddRow("c7c2f8b3-2222-4d4f-8e66-1b1b1b1b1b1b", arn, "{128}", 3, 0.00005,
			nil, nil, nil, nil, nil, nil, created.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM sampling_runs")).
		WithArgs(arn, 10).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM run_measurements")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "memory_size", "duration_ms", "billed_ms", "cost_usd"}).
			AddRow("b6b1f7a2-1111-4c3e-9d55-0a0a0a0a0a0a", 128, 800.0, 800.0, 0.000002).
			AddRow("b6b1f7a2-1111-4c3e-9d55-0a0a0a0a0a0a", 256, 300.0, 300.0, 0.000001).
			AddRow("c7c2f8b3-2222-4d4f-8e66-1b1b1b1b1b1b", 128, 640.5, 641.0, 0.0000015))

	runs, err := store.ListRuns(context.Background(), arn, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, []models.ExecutionLog{
		{MemorySize: 128, Duration: 800, BilledDuration: 800, Cost: 0.000002},
		{MemorySize: 256, Duration: 300, BilledDuration: 300, Cost: 0.000001},
	}, runs[0].Averages)
	require.Len(t, runs[1].Averages, 1)
	assert.Equal(t, 641.0, runs[1].Averages[0].BilledDuration)

	assert.Equal(t, []int{128, 256}, runs[0].MemorySizes)
	require.NotNil(t, runs[0].Params)
	assert.Equal(t, 0.002, runs[0].Params.DecayRate)
	require.NotNil(t, runs[0].Result)
	assert.Equal(t, 256, runs[0].Result.MemorySize)

	assert.Nil(t, runs[1].Params)
	assert.Nil(t, runs[1].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsWithoutRunsSkipsMeasurements(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sampling_runs")).
		WithArgs(arn, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	runs, err := store.ListRuns(context.Background(), arn, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsMeasurementError(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{
		"id", "function_id", "memory_sizes", "runs_per_size", "sampling_cost_usd",
		"t0", "decay_rate", "t_min",
		"recommended_memory", "predicted_cost_usd", "predicted_duration",
		"created_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM sampling_runs")).
		WithArgs(arn, 5).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("b6b1f7a2-1111-4c3e-9d55-0a0a0a0a0a0a", arn, "{128}", 1, 0.0,
			nil, nil, nil, nil, nil, nil, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM run_measurements")).
		WillReturnError(assert.AnError)

	_, err := store.ListRuns(context.Background(), arn, 5)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
