package cacheinfra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisName is the name the redis store answers to in TTL tables.
const DefaultRedisName = "redis"

// RedisStore is a store backed by a redis client. Values are written as
// UTF-8 JSON text, reads return the raw bytes for the caller to decode.
//
// The caller owns the client lifecycle.
type RedisStore struct {
	name   string
	client redis.UniversalClient
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisName overrides the store name used for per-store TTL lookups.
func WithRedisName(name string) RedisOption {
	return func(s *RedisStore) {
		if name != "" {
			s.name = name
		}
	}
}

// NewRedisStore wraps client in a store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{name: DefaultRedisName, client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the store name used for TTL lookups.
func (s *RedisStore) Name() string {
	return s.name
}

// Client exposes the underlying client so callers can run MULTI/EXEC
// transactions against it.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// EncodeValue serializes a value the way the redis store writes it.
// Byte slices and raw JSON are assumed to be encoded already.
func EncodeValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "redis store: encode value")
	}
	return data, nil
}

// Get returns the raw bytes stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// MultiGet issues a single MGET and returns one slot per key, nil for misses.
func (s *RedisStore) MultiGet(ctx context.Context, keys []string) ([]any, error) {
	values := make([]any, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	res, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range res {
		if str, ok := v.(string); ok {
			values[i] = []byte(str)
		}
	}
	return values, nil
}

// Set writes value under key. A ttl of zero means no expiration.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, expiration(ttl)).Err()
}

// MultiSet pipelines one SET per pair.
func (s *RedisStore) MultiSet(ctx context.Context, keys []string, values []any, ttl time.Duration) error {
	if len(keys) != len(values) {
		return errors.Newf("redis store: %d keys for %d values", len(keys), len(values))
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for i, key := range keys {
		data, err := EncodeValue(values[i])
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, expiration(ttl))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes keys with a single DEL.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

// Reset flushes the selected database.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}

func expiration(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
