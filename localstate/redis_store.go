package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fedlab/fedflow/types"
)

// RedisStore is a Redis-based implementation of Store. Suitable for
// distributed deployments where several engine replicas share state.
// Payloads live in plain keys; a per-plan hash indexes refs for List
// and DeleteBefore.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-based state store.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = "fedflow:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "state:"}, nil
}

func (s *RedisStore) dataKey(planKey, refKey string) string {
	return s.keyPrefix + planKey + ":" + refKey
}

func (s *RedisStore) indexKey(planKey string) string {
	return s.keyPrefix + planKey + ":index"
}

// Save persists the payload of one state.
func (s *RedisStore) Save(ctx context.Context, planKey string, ref types.StateRef, data []byte) error {
	if ref.Key == "" {
		return ErrInvalidRef
	}

	refJSON, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode ref: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(planKey, ref.Key), data, 0)
	pipe.HSet(ctx, s.indexKey(planKey), ref.Key, refJSON)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Get returns the payload saved for refKey.
func (s *RedisStore) Get(ctx context.Context, planKey, refKey string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.dataKey(planKey, refKey)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return data, nil
}

// Delete removes one state.
func (s *RedisStore) Delete(ctx context.Context, planKey, refKey string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.dataKey(planKey, refKey))
	pipe.HDel(ctx, s.indexKey(planKey), refKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// DeleteBefore removes every state of the plan below the given round.
func (s *RedisStore) DeleteBefore(ctx context.Context, planKey string, round int) (int, error) {
	refs, err := s.List(ctx, planKey)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ref := range refs {
		if ref.Round >= round {
			continue
		}
		if err := s.Delete(ctx, planKey, ref.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// List returns the refs of every state saved for the plan.
func (s *RedisStore) List(ctx context.Context, planKey string) ([]types.StateRef, error) {
	fields, err := s.client.HGetAll(ctx, s.indexKey(planKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	refs := make([]types.StateRef, 0, len(fields))
	for key, refJSON := range fields {
		var ref types.StateRef
		if err := json.Unmarshal([]byte(refJSON), &ref); err != nil {
			return nil, fmt.Errorf("decode ref %s: %w", key, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
