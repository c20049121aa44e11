package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/repository"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

// PostgresStore implements Store interface using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	// Run migrations
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate runs database migrations
func (s *PostgresStore) migrate() error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Load retrieves the model of a function
func (s *PostgresStore) Load(ctx context.Context, functionID string) (*models.ModelParams, bool, error) {
	query := `
		SELECT t0, decay_rate, t_min
		FROM performance_models
		WHERE function_id = $1
	`

	var params models.ModelParams
	err := s.db.QueryRowContext(ctx, query, repository.BaseIdentity(functionID)).Scan(
		&params.T0, &params.DecayRate, &params.TMin,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &params, true, nil
}

// Save upserts the model of a function; the last fit wins
func (s *PostgresStore) Save(ctx context.Context, functionID string, params models.ModelParams) error {
	query := `
		INSERT INTO performance_models (function_id, t0, decay_rate, t_min, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (function_id) DO UPDATE SET
			t0 = EXCLUDED.t0,
			decay_rate = EXCLUDED.decay_rate,
			t_min = EXCLUDED.t_min,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		repository.BaseIdentity(functionID), params.T0, params.DecayRate, params.TMin, time.Now(),
	)
	return err
}

// SaveRun saves a sampling run with its averaged measurements
func (s *PostgresStore) SaveRun(ctx context.Context, run *models.SamplingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var t0, decayRate, tMin sql.NullFloat64
	if run.Params != nil {
		t0 = sql.NullFloat64{Float64: run.Params.T0, Valid: true}
		decayRate = sql.NullFloat64{Float64: run.Params.DecayRate, Valid: true}
		tMin = sql.NullFloat64{Float64: run.Params.TMin, Valid: true}
	}
	var memory sql.NullInt64
	var cost, duration sql.NullFloat64
	if run.Result != nil {
		memory = sql.NullInt64{Int64: int64(run.Result.MemorySize), Valid: true}
		cost = sql.NullFloat64{Float64: run.Result.Cost, Valid: true}
		duration = sql.NullFloat64{Float64: run.Result.Duration, Valid: true}
	}

	sizes := make([]int64, len(run.MemorySizes))
	for i, size := range run.MemorySizes {
		sizes[i] = int64(size)
	}

	query := `
		INSERT INTO sampling_runs (
			id, function_id, memory_sizes, runs_per_size, sampling_cost_usd,
			t0, decay_rate, t_min,
			recommended_memory, predicted_cost_usd, predicted_duration,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID, repository.BaseIdentity(run.FunctionID), pq.Array(sizes), run.RunsPerSize, run.SamplingCost,
		t0, decayRate, tMin,
		memory, cost, duration,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, log := range run.Averages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_measurements (run_id, memory_size, duration_ms, billed_ms, cost_usd)
			VALUES ($1, $2, $3, $4, $5)
		`, run.ID, log.MemorySize, log.Duration, log.BilledDuration, log.Cost)
		if err != nil {
			return fmt.Errorf("failed to insert measurement: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns retrieves the latest sampling runs of a function
func (s *PostgresStore) ListRuns(ctx context.Context, functionID string, limit int) ([]*models.SamplingRun, error) {
	query := `
		SELECT id, function_id, memory_sizes, runs_per_size, sampling_cost_usd,
			t0, decay_rate, t_min,
			recommended_memory, predicted_cost_usd, predicted_duration,
			created_at
		FROM sampling_runs
		WHERE function_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, repository.BaseIdentity(functionID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.SamplingRun
	for rows.Next() {
		var run models.SamplingRun
		var sizes pq.Int64Array
		var t0, decayRate, tMin sql.NullFloat64
		var memory sql.NullInt64
		var cost, duration sql.NullFloat64

		err := rows.Scan(
			&run.ID, &run.FunctionID, &sizes, &run.RunsPerSize, &run.SamplingCost,
			&t0, &decayRate, &tMin,
			&memory, &cost, &duration,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		for _, size := range sizes {
			run.MemorySizes = append(run.MemorySizes, int(size))
		}
		if t0.Valid && decayRate.Valid && tMin.Valid {
			run.Params = &models.ModelParams{T0: t0.Float64, DecayRate: decayRate.Float64, TMin: tMin.Float64}
		}
		if memory.Valid {
			run.Result = &models.SizingResult{
				MemorySize: int(memory.Int64),
				Cost:       cost.Float64,
				Duration:   duration.Float64,
			}
		}

		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}

	if err := s.loadMeasurements(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// loadMeasurements fills Averages of every run in one query.
func (s *PostgresStore) loadMeasurements(ctx context.Context, runs []*models.SamplingRun) error {
	byID := make(map[string]*models.SamplingRun, len(runs))
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		byID[run.ID] = run
		ids = append(ids, run.ID)
	}

	query := `
		SELECT run_id, memory_size, duration_ms, billed_ms, cost_usd
		FROM run_measurements
		WHERE run_id = ANY($1::uuid[])
		ORDER BY run_id, memory_size
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var runID string
		var avg models.ExecutionLog
		if err := rows.Scan(&runID, &avg.MemorySize, &avg.Duration, &avg.BilledDuration, &avg.Cost); err != nil {
			return err
		}
		if run, ok := byID[runID]; ok {
			run.Averages = append(run.Averages, avg)
		}
	}
	return rows.Err()
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
