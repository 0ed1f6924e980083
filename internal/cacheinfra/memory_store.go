package cacheinfra

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/viccon/sturdyc"
)

// MemoryConfig holds the configuration for the sturdyc backed memory store.
type MemoryConfig struct {
	// Name identifies the store in per-store TTL tables. Default: "memory"
	Name string

	// Capacity defines the maximum number of entries that the store can hold.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of sturdyc shards for concurrent access.
	// Must be greater than 0 and not exceed Capacity, since every shard gets
	// Capacity/NumShards slots.
	NumShards int

	// TTL is the upper bound for the lifetime of any entry. Per-entry TTLs
	// passed to Set are applied on top of it.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when a shard reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultMemoryConfig returns a MemoryConfig with sensible defaults for most use cases.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Name:               "memory",
		Capacity:           10000,
		NumShards:          256,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
	}
}

// toSturdycOptions converts the config to the sturdyc options that are not
// passed positionally to sturdyc.New.
func (c MemoryConfig) toSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c MemoryConfig) Validate() error {
	if c.Name == "" {
		return &ConfigError{Field: "Name", Message: "must not be empty"}
	}

	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// memoryEntry is what we keep in sturdyc. sturdyc only knows a client wide
// TTL, so the per-entry deadline travels with the value.
type memoryEntry struct {
	value   any
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryStore is an in-process store backed by a sharded sturdyc client.
// Values are kept as-is, no serialization takes place: Get returns the
// stored value itself, and callers modifying it modify the cached entry.
type MemoryStore struct {
	name   string
	client *sturdyc.Client[memoryEntry]
	now    func() time.Time
}

// NewMemoryStore validates the configuration and creates a sturdyc client.
//
// Capacity, NumShards, TTL and EvictionPercentage are passed to sturdyc.New,
// the remaining settings are applied as options.
func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[memoryEntry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.toSturdycOptions()...,
	)

	return &MemoryStore{name: cfg.Name, client: client, now: time.Now}, nil
}

// Name returns the store name used for TTL lookups.
func (s *MemoryStore) Name() string {
	return s.name
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	entry, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// MultiGet returns one slot per key, nil for misses.
func (s *MemoryStore) MultiGet(ctx context.Context, keys []string) ([]any, error) {
	values := make([]any, len(keys))
	for i, key := range keys {
		value, ok, _ := s.Get(ctx, key)
		if ok {
			values[i] = value
		}
	}
	return values, nil
}

// Set stores value under key. A ttl of zero keeps the entry until sturdyc
// evicts it or the client TTL elapses.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.client.Set(key, entry)
	return nil
}

// MultiSet stores every key/value pair with the same ttl.
func (s *MemoryStore) MultiSet(ctx context.Context, keys []string, values []any, ttl time.Duration) error {
	if len(keys) != len(values) {
		return errors.Newf("memory store: %d keys for %d values", len(keys), len(values))
	}
	for i, key := range keys {
		if err := s.Set(ctx, key, values[i], ttl); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the keys and reports how many of them were present.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	var removed int64
	for _, key := range keys {
		if _, ok := s.client.Get(key); ok {
			removed++
		}
		s.client.Delete(key)
	}
	return removed, nil
}

// Reset removes every entry from the store.
func (s *MemoryStore) Reset(_ context.Context) error {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	return nil
}
