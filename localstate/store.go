// Package localstate persists the per-round states of a compute plan:
// the serialized local model of each organization and, for remote
// setups, the shared states in transit. State is saved at the end of
// every round and reloaded at the start of the next, so a restarted
// engine can resume from the last completed round.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node deployments
// - Redis: for distributed deployments
package localstate

import (
	"context"
	"errors"

	"github.com/fedlab/fedflow/types"
)

// Common errors
var (
	ErrNotFound    = errors.New("state not found")
	ErrStoreClosed = errors.New("store is closed")
	ErrInvalidRef  = errors.New("invalid state ref")
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// Config selects and configures a state store backend.
type Config struct {
	// Type is the storage backend type.
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis").
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:    StoreTypeMemory,
		BaseDir: "./data/state",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "fedflow:",
		},
	}
}

// Store persists plan states keyed by (plan key, state ref).
type Store interface {
	// Save persists the payload of one state.
	Save(ctx context.Context, planKey string, ref types.StateRef, data []byte) error

	// Get returns the payload saved for refKey, or ErrNotFound.
	Get(ctx context.Context, planKey, refKey string) ([]byte, error)

	// Delete removes one state. Deleting a missing state is not an error.
	Delete(ctx context.Context, planKey, refKey string) error

	// DeleteBefore removes every state of the plan whose round is
	// strictly below the given round. Returns the number removed.
	DeleteBefore(ctx context.Context, planKey string, round int) (int, error)

	// List returns the refs of every state saved for the plan.
	List(ctx context.Context, planKey string) ([]types.StateRef, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// NewStore creates a store of the configured type.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(cfg.BaseDir)
	case StoreTypeRedis:
		return NewRedisStore(cfg)
	default:
		return nil, errors.New("unknown state store type: " + string(cfg.Type))
	}
}
