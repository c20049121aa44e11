package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opscart/lambda-sizer/pkg/models"
)

const defaultRedisKey = "lambda-sizer:models"

// RedisRepository keeps the identity -> parameters mapping in one hash.
// HSET is atomic, so concurrent fitters only race on which fit wins.
type RedisRepository struct {
	client *redis.Client
	key    string
}

func NewRedisRepository(client *redis.Client, key string) *RedisRepository {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisRepository{client: client, key: key}
}

// NewRedisRepositoryFromURL connects using a redis:// URL.
func NewRedisRepositoryFromURL(url string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisRepository(redis.NewClient(opts), ""), nil
}

func (r *RedisRepository) Load(ctx context.Context, functionID string) (*models.ModelParams, bool, error) {
	data, err := r.client.HGet(ctx, r.key, BaseIdentity(functionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read model: %w", err)
	}

	var params models.ModelParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, false, fmt.Errorf("failed to decode model: %w", err)
	}
	return &params, true, nil
}

func (r *RedisRepository) Save(ctx context.Context, functionID string, params models.ModelParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, BaseIdentity(functionID), data).Err(); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
