package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-repository-guard/internal/cacheinfra"
)

// Driver names accepted by OpenSQLStore.
const (
	DriverSQLite   = cacheinfra.DriverSQLite
	DriverPostgres = cacheinfra.DriverPostgres
)

// MemoryConfig exposes the memory backend options.
type MemoryConfig struct {
	Capacity           int
	NumShards          int
	MaxTTL             time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
	Now                func() time.Time
}

// DefaultMemoryConfig returns a MemoryConfig populated with sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c MemoryConfig) Validate() error {
	return c.toInternal().Validate()
}

// NewMemoryStore constructs the process-local store.
func NewMemoryStore(cfg MemoryConfig) (Store, error) {
	store, err := cacheinfra.NewMemoryStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewRedisStore constructs a store over an existing go-redis client.
func NewRedisStore(client redis.UniversalClient) (Store, error) {
	store, err := cacheinfra.NewRedisStore(client)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenSQLStore opens a bun backed store for driver ("sqlite3" or "postgres").
// A nil now uses time.Now.
func OpenSQLStore(ctx context.Context, driver, dsn string, now func() time.Time) (Store, error) {
	store, err := cacheinfra.OpenSQLStore(ctx, driver, dsn, now)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (c MemoryConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		MaxTTL:             c.MaxTTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		Now:                c.Now,
	}
}

func convertFromInternal(cfg cacheinfra.Config) MemoryConfig {
	return MemoryConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		MaxTTL:             cfg.MaxTTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
		Now:                cfg.Now,
	}
}
