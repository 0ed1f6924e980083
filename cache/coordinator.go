package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Settings configures New.
type Settings[K, Q, E any] struct {
	// Adapter is the datastore. Required.
	Adapter Adapter[K, Q, E]
	// Stores are the mounted cache stores in read order. When empty a small
	// memory store is mounted.
	Stores []Store
	// Config is overlaid on DefaultConfig.
	Config *Config
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Cache coordinates cache-aside reads and writes for one datastore adapter
// across the mounted stores. Entity lookups go through Keys, query
// executions through Queries.
type Cache[K, Q, E any] struct {
	adapter Adapter[K, Q, E]
	hooks   hooks[K, Q, E]
	config  Config
	logger  *zap.Logger

	stores []Store
	// view is the single mounted store or the composite over all of them.
	view Store
	// tx is the first transactional store mounted, if any.
	tx TransactionalStore
	// noTx is the view over every store but tx. Nil unless tx is mounted
	// next to other stores.
	noTx Store

	keys    *EntityCache[K, Q, E]
	queries *QueryCache[K, Q, E]
}

// New builds a Cache. It fails with ErrNoAdapter without an adapter and with
// ErrInvalidConfig when the merged configuration does not validate.
func New[K, Q, E any](s Settings[K, Q, E]) (*Cache[K, Q, E], error) {
	if s.Adapter == nil {
		return nil, ErrNoAdapter
	}

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stores := s.Stores
	if len(stores) == 0 {
		var err error
		if stores, err = defaultStores(); err != nil {
			return nil, errors.Wrap(err, "cache: default store")
		}
	}

	cfg, err := Resolve(s.Config)
	if err != nil {
		return nil, err
	}

	c := &Cache[K, Q, E]{
		adapter: s.Adapter,
		logger:  logger.Named("cache"),
		stores:  append([]Store(nil), stores...),
	}

	rest := make([]Store, 0, len(stores))
	for _, st := range stores {
		if tx, ok := st.(TransactionalStore); ok && c.tx == nil {
			c.tx = tx
			continue
		}
		rest = append(rest, st)
	}

	if len(stores) == 1 {
		c.view = stores[0]
	} else {
		c.view = newMultiStore(stores)
		switch {
		case c.tx == nil:
		case len(rest) == 1:
			c.noTx = rest[0]
		default:
			c.noTx = newMultiStore(rest)
		}
	}

	// A lone transactional store without TTL configuration caches on its
	// own TTL table.
	if len(stores) == 1 && c.tx != nil && (s.Config == nil || s.Config.TTL.isZero()) {
		if ttl, ok := cfg.TTL.Stores[DefaultRedisStoreName]; ok {
			cfg.TTL.Entity = cloneDuration(ttl.Entity)
			cfg.TTL.Query = cloneDuration(ttl.Query)
		}
	}

	c.config = cfg
	c.hooks = resolveHooks(s.Adapter, cfg.HashKeys())
	c.keys = &EntityCache[K, Q, E]{c: c}
	c.queries = &QueryCache[K, Q, E]{c: c}

	fields := []zap.Field{
		zap.Int("stores", len(stores)),
		zap.String("view", c.view.Name()),
		zap.Bool("hash_keys", cfg.HashKeys()),
	}
	if c.tx != nil {
		fields = append(fields, zap.String("transactional", c.tx.Name()))
	}
	c.logger.Debug("cache initialized", fields...)

	if cfg.WrapsClient() {
		if w, ok := s.Adapter.(ClientWrapper[K, Q, E]); ok {
			w.WrapClient(c)
		}
	}
	return c, nil
}

// Keys returns the entity cache.
func (c *Cache[K, Q, E]) Keys() *EntityCache[K, Q, E] { return c.keys }

// Queries returns the query cache.
func (c *Cache[K, Q, E]) Queries() *QueryCache[K, Q, E] { return c.queries }

// Config returns a copy of the merged configuration.
func (c *Cache[K, Q, E]) Config() Config { return c.config.Clone() }

// Stores returns the mounted stores in read order.
func (c *Cache[K, Q, E]) Stores() []Store { return append([]Store(nil), c.stores...) }

// TransactionalStore returns the transactional store, if one is mounted.
func (c *Cache[K, Q, E]) TransactionalStore() (TransactionalStore, bool) {
	return c.tx, c.tx != nil
}

// Adapter returns the datastore adapter the cache was built with.
func (c *Cache[K, Q, E]) Adapter() Adapter[K, Q, E] { return c.adapter }

// Get reads a canonical key from the mounted stores.
func (c *Cache[K, Q, E]) Get(ctx context.Context, key string) (any, bool, error) {
	return c.view.Get(ctx, key)
}

// MultiGet reads canonical keys from the mounted stores, nil for misses.
func (c *Cache[K, Q, E]) MultiGet(ctx context.Context, keys ...string) ([]any, error) {
	return c.view.MultiGet(ctx, keys)
}

// Set writes a value under a canonical key. Without an explicit TTL option
// the entity TTLs apply.
func (c *Cache[K, Q, E]) Set(ctx context.Context, key string, value any, opts ...Option) error {
	return writeOne(ctx, c.view, key, value, c.resolveTTL(buildOptions(opts), KindEntity))
}

// MultiSet writes parallel lists of canonical keys and values.
func (c *Cache[K, Q, E]) MultiSet(ctx context.Context, keys []string, values []any, opts ...Option) error {
	if len(keys) != len(values) {
		return ErrKeyValueMismatch
	}
	return writeMany(ctx, c.view, keys, values, c.resolveTTL(buildOptions(opts), KindEntity))
}

// Delete removes canonical keys from every store.
func (c *Cache[K, Q, E]) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.view.Delete(ctx, keys...)
}

// Reset empties every store.
func (c *Cache[K, Q, E]) Reset(ctx context.Context) error {
	return c.view.Reset(ctx)
}

// Prime writes fetched values under their canonical keys in one multi set
// and returns the values. Keys and values must have the same length.
func (c *Cache[K, Q, E]) Prime(ctx context.Context, keys []string, values []any, opts ...Option) ([]any, error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrKeyValueMismatch, "%d keys, %d values", len(keys), len(values))
	}
	exp := c.resolveTTL(buildOptions(opts), KindEntity)
	if err := c.prime(ctx, c.view, keys, values, exp); err != nil {
		return nil, err
	}
	return values, nil
}

// PrimeOne writes a single value. A slice value is stored as one value.
func (c *Cache[K, Q, E]) PrimeOne(ctx context.Context, key string, value any, opts ...Option) (any, error) {
	exp := c.resolveTTL(buildOptions(opts), KindEntity)
	if err := c.prime(ctx, c.view, []string{key}, []any{value}, exp); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache[K, Q, E]) resolveTTL(opts Options, kind Kind) Expiration {
	return ResolveTTL(opts, c.config, len(c.stores), kind)
}

// prime writes keys and values into view, a single pair with a plain set.
func (c *Cache[K, Q, E]) prime(ctx context.Context, view Store, keys []string, values []any, exp Expiration) error {
	if len(keys) == 0 {
		return nil
	}
	var err error
	if len(keys) == 1 {
		err = writeOne(ctx, view, keys[0], values[0], exp)
	} else {
		err = writeMany(ctx, view, keys, values, exp)
	}
	if err != nil {
		c.logger.Warn("cache prime failed", zap.String("view", view.Name()), zap.Int("keys", len(keys)), zap.Error(err))
		return errors.Mark(errors.Wrap(err, "cache: prime"), ErrWriteFailed)
	}
	c.logger.Debug("cache primed", zap.String("view", view.Name()), zap.Int("keys", len(keys)))
	return nil
}

// read issues one get, or one multi get for several keys.
func (c *Cache[K, Q, E]) read(ctx context.Context, keys []string) ([]any, error) {
	if len(keys) == 1 {
		value, ok, err := c.view.Get(ctx, keys[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			return []any{nil}, nil
		}
		return []any{value}, nil
	}
	return c.view.MultiGet(ctx, keys)
}
