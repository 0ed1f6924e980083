package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-datastore-cache/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// Store is a cache backend. Keys are canonical cache keys, a ttl of zero
// means no expiration.
//
// In-process stores hand back the value that was written, not a copy. Values
// read from them, and the entities of cached query results, are shared with
// the cache and must not be modified.
type Store interface {
	// Name identifies the store in per store TTL tables.
	Name() string
	// Get returns (value, true, nil) on a hit and (nil, false, nil) on a miss.
	Get(ctx context.Context, key string) (any, bool, error)
	// MultiGet returns one slot per key, nil for misses.
	MultiGet(ctx context.Context, keys []string) ([]any, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// MultiSet writes parallel lists of keys and values.
	MultiSet(ctx context.Context, keys []string, values []any, ttl time.Duration) error
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	Reset(ctx context.Context) error
}

// TransactionalStore is a store whose client runs atomic multi command
// transactions. The query index is maintained through it.
type TransactionalStore interface {
	Store
	Client() redis.UniversalClient
}

// MemoryConfig exposes the memory store options for consumers of the cache package.
type MemoryConfig struct {
	Name               string
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultMemoryConfig returns a MemoryConfig populated with sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return convertFromInternal(cacheinfra.DefaultMemoryConfig())
}

// Validate checks whether the configuration values are valid.
func (c MemoryConfig) Validate() error {
	return c.toInternal().Validate()
}

// NewMemoryStore constructs the in-process store using the provided configuration.
// Entries written without a TTL still leave the store after cfg.TTL. Reads
// return the written values themselves.
func NewMemoryStore(cfg MemoryConfig) (Store, error) {
	store, err := cacheinfra.NewMemoryStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// DefaultRedisStoreName is the name of a redis store unless overridden with
// WithRedisName. Its TTL table becomes the static default when it is the only
// mounted store.
const DefaultRedisStoreName = cacheinfra.DefaultRedisName

// RedisStoreOption configures a redis store.
type RedisStoreOption = cacheinfra.RedisOption

// WithRedisName overrides the name the redis store uses in TTL tables.
// Default: "redis"
func WithRedisName(name string) RedisStoreOption {
	return cacheinfra.WithRedisName(name)
}

// NewRedisStore wraps a redis client in a transactional store. The caller
// owns the client lifecycle.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) TransactionalStore {
	return cacheinfra.NewRedisStore(client, opts...)
}

// defaultStores is the store set mounted when none is supplied: a small
// memory store.
func defaultStores() ([]Store, error) {
	cfg := DefaultMemoryConfig()
	cfg.Capacity = 100
	cfg.NumShards = 10
	store, err := NewMemoryStore(cfg)
	if err != nil {
		return nil, err
	}
	return []Store{store}, nil
}

func (c MemoryConfig) toInternal() cacheinfra.MemoryConfig {
	return cacheinfra.MemoryConfig{
		Name:               c.Name,
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.MemoryConfig) MemoryConfig {
	return MemoryConfig{
		Name:               cfg.Name,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
