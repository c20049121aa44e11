package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

const arn = "arn:aws:lambda:us-east-1:123456789012:function:resize"

func TestBaseIdentity(t *testing.T) {
	assert.Equal(t, arn, BaseIdentity(arn+":128MB"))
	assert.Equal(t, arn, BaseIdentity(arn+":3008MB"))
	assert.Equal(t, arn, BaseIdentity(arn))
	assert.Equal(t, arn+":live", BaseIdentity(arn+":live"))
}

func testRepositories(t *testing.T) map[string]Repository {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Repository{
		"file":  NewFileRepository(filepath.Join(t.TempDir(), "models", "repository.json")),
		"redis": NewRedisRepository(client, ""),
	}
}

func TestRepositoryLastSaveWins(t *testing.T) {
	ctx := context.Background()

	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := repo.Load(ctx, arn)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, repo.Save(ctx, arn+":128MB", models.ModelParams{T0: 1, DecayRate: 0.1, TMin: 2}))
			require.NoError(t, repo.Save(ctx, arn, models.ModelParams{T0: 3, DecayRate: 0.2, TMin: 4}))

			params, found, err := repo.Load(ctx, arn+":512MB")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, models.ModelParams{T0: 3, DecayRate: 0.2, TMin: 4}, *params)
		})
	}
}

func TestFileRepositoryFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "performance_model_repository.json")
	repo := NewFileRepository(path)

	require.NoError(t, repo.Save(context.Background(), arn, models.ModelParams{T0: 50, DecayRate: 0.002, TMin: 12}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string][]float64
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string][]float64{arn: {50, 0.002, 12}}, raw)
}

func TestFileRepositoryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repository.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x": [1, 2]}`), 0o644))

	_, _, err := NewFileRepository(path).Load(context.Background(), "x")
	assert.Error(t, err)
}

func TestLoadModelsReportsMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "repository.json"))
	require.NoError(t, repo.Save(ctx, "a", models.ModelParams{T0: 10, DecayRate: 0.01, TMin: 1}))
	require.NoError(t, repo.Save(ctx, "c", models.ModelParams{T0: 20, DecayRate: 0.01, TMin: 2}))

	loaded, err := LoadModels(ctx, repo, []string{"a", "b:128MB", "c"}, pricing.DefaultRates(), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, loaded.IDs)
	assert.Equal(t, []string{"b"}, loaded.Missing)
	require.Len(t, loaded.Models, 2)
	assert.Equal(t, 20.0, loaded.ByID()["c"].Params().T0)
}
