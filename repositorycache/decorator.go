package repositorycache

import (
	"context"

	"github.com/goliatone/go-datastore-cache/cache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// Settings configures New.
type Settings struct {
	// Stores are the mounted cache stores, a small memory store when empty.
	Stores []cache.Store
	Config *cache.Config
	Logger *zap.Logger
	// Kind overrides the entity category of the records.
	Kind          string
	KeySerializer cache.KeySerializer
}

// CachedRepository decorates a base repository with the entity and query
// caches. Reads go through the caches, writes pass through and invalidate.
type CachedRepository[T any] struct {
	base    repository.Repository[T]
	adapter *Adapter[T]
	cache   *cache.Cache[string, Query, T]
	logger  *zap.Logger

	// Cached query keys and entity IDs, used to invalidate when no
	// transactional store indexes the queries.
	queryKeys *xsync.MapOf[string, struct{}]
	entityIDs *xsync.MapOf[string, struct{}]
}

// New wraps base with a cache built from s.
func New[T any](base repository.Repository[T], s Settings) (*CachedRepository[T], error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := NewAdapter(base, WithKind(s.Kind), WithKeySerializer(s.KeySerializer))
	c, err := cache.New(cache.Settings[string, Query, T]{
		Adapter: adapter,
		Stores:  s.Stores,
		Config:  s.Config,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &CachedRepository[T]{
		base:      base,
		adapter:   adapter,
		cache:     c,
		logger:    logger.Named("repositorycache").With(zap.String("kind", adapter.Kind())),
		queryKeys: xsync.NewMapOf[string, struct{}](),
		entityIDs: xsync.NewMapOf[string, struct{}](),
	}, nil
}

// Cache returns the underlying cache.
func (c *CachedRepository[T]) Cache() *cache.Cache[string, Query, T] { return c.cache }

// Kind returns the entity category of the records.
func (c *CachedRepository[T]) Kind() string { return c.adapter.Kind() }

func (c *CachedRepository[T]) enabled(ctx context.Context) bool {
	if !c.adapter.Wrapped() {
		return false
	}
	return cacheEnabled(ctx, c.cache.Config().IsGlobal())
}

// Get retrieves a single record using the provided criteria.
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	if !c.enabled(ctx) {
		return c.base.Get(ctx, criteria...)
	}
	return c.one(ctx, Query{Method: MethodGet, Criteria: criteria})
}

// GetByID retrieves a record by ID. Without criteria it is an entity read.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if !c.enabled(ctx) {
		return c.base.GetByID(ctx, id, criteria...)
	}
	if len(criteria) > 0 {
		return c.one(ctx, Query{Method: MethodGetByID, ID: id, Criteria: criteria})
	}

	c.entityIDs.Store(id, struct{}{})
	record, err := c.cache.Keys().ReadOne(ctx, id, nil)
	if err = c.served(err); err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

// GetByIdentifier retrieves a record by identifier.
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	if !c.enabled(ctx) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	}
	return c.one(ctx, Query{Method: MethodGetByIdentifier, Identifier: identifier, Criteria: criteria})
}

// List retrieves records and the total count.
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	if !c.enabled(ctx) {
		return c.base.List(ctx, criteria...)
	}
	result, err := c.query(ctx, Query{Method: MethodList, Criteria: criteria})
	if err != nil {
		return nil, 0, err
	}
	return result.Entities, result.Meta.Total, nil
}

// Count returns the number of records matching the criteria.
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	if !c.enabled(ctx) {
		return c.base.Count(ctx, criteria...)
	}
	result, err := c.query(ctx, Query{Method: MethodCount, Criteria: criteria})
	if err != nil {
		return 0, err
	}
	return result.Meta.Total, nil
}

func (c *CachedRepository[T]) one(ctx context.Context, q Query) (T, error) {
	var zero T
	result, err := c.query(ctx, q)
	if err != nil {
		return zero, err
	}
	if len(result.Entities) == 0 {
		return zero, cache.ErrEntityNotFound
	}
	return result.Entities[0], nil
}

// query serves q through the query cache. Closure criteria without a query
// key cannot be told apart by their serialized form and run uncached.
func (c *CachedRepository[T]) query(ctx context.Context, q Query) (cache.QueryResult[T], error) {
	q.Kinds = cacheTagsFromContext(ctx)
	q.Key = queryKeyFromContext(ctx)
	if q.Key == "" && cache.HasClosure(q.Criteria) {
		c.logger.Debug("closure criteria without a query key, not cached", zap.String("method", q.Method))
		return c.adapter.RunQueryUnwrapped(ctx, q)
	}
	c.queryKeys.Store(c.cache.QueryKey(q), struct{}{})

	result, err := c.adapter.RunQuery(ctx, q)
	if err = c.served(err); err != nil {
		return cache.QueryResult[T]{}, err
	}
	return result, nil
}

// served drops cache write failures, the read having been served.
func (c *CachedRepository[T]) served(err error) error {
	if err != nil && cache.IsWriteFailed(err) {
		c.logger.Warn("cache write failed", zap.Error(err))
		return nil
	}
	return err
}

// Create creates a new record.
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// CreateTx creates a new record within a transaction.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// CreateMany creates multiple records.
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction.
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.invalidate(ctx, result)
	}
	return result, err
}

// GetOrCreateTx is GetOrCreate within a transaction.
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx, result)
	}
	return result, err
}

// Update updates a record.
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx, record, result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction.
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx, record, result)
	}
	return result, err
}

// UpdateMany updates multiple records.
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.invalidate(ctx, concat(records, result)...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction.
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx, concat(records, result)...)
	}
	return result, err
}

// Upsert inserts or updates a record.
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx, record, result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction.
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx, record, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records.
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.invalidate(ctx, concat(records, result)...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction.
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx, concat(records, result)...)
	}
	return result, err
}

// Delete deletes a record.
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.invalidate(ctx, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction.
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx, record)
	}
	return err
}

// DeleteMany deletes the records matching criteria.
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteManyTx deletes the records matching criteria within a transaction.
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhere deletes the records matching criteria.
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhereTx deletes the records matching criteria within a transaction.
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// ForceDelete deletes a record bypassing soft delete.
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.invalidate(ctx, record)
	}
	return err
}

// ForceDeleteTx deletes a record bypassing soft delete within a transaction.
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx, record)
	}
	return err
}

// Reads inside a transaction are not cached.

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query, uncached.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction, uncached.
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers of the base repository.
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// invalidate drops the cached records and every cached query of the kind.
// Failures are logged, the write having succeeded.
func (c *CachedRepository[T]) invalidate(ctx context.Context, records ...T) {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if id, err := extractID(record); err == nil && id != "" {
			ids = append(ids, id)
		}
	}
	ids = dedupeStrings(ids)

	if len(ids) > 0 {
		if _, err := c.cache.Keys().Del(ctx, ids...); err != nil {
			c.logger.Warn("entity invalidation failed", zap.Strings("ids", ids), zap.Error(err))
		}
		for _, id := range ids {
			c.entityIDs.Delete(id)
		}
	}
	c.clearQueries(ctx)
}

// invalidateAll also drops every entity read through the cache, the affected
// records being unknown.
func (c *CachedRepository[T]) invalidateAll(ctx context.Context) {
	var ids []string
	c.entityIDs.Range(func(id string, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	c.invalidate(ctx)
	if len(ids) == 0 {
		return
	}
	if _, err := c.cache.Keys().Del(ctx, ids...); err != nil {
		c.logger.Warn("entity invalidation failed", zap.Int("ids", len(ids)), zap.Error(err))
		return
	}
	for _, id := range ids {
		c.entityIDs.Delete(id)
	}
}

func (c *CachedRepository[T]) clearQueries(ctx context.Context) {
	removed, err := c.cache.Queries().ClearQueriesEntityKind(ctx, c.adapter.Kind())
	if err == nil {
		c.queryKeys.Clear()
		c.logger.Debug("queries invalidated", zap.Int64("removed", removed))
		return
	}
	if !cache.IsNoTransactionalStore(err) {
		c.logger.Warn("query invalidation failed", zap.Error(err))
		return
	}

	var keys []string
	c.queryKeys.Range(func(key string, _ struct{}) bool {
		keys = append(keys, key)
		return true
	})
	if len(keys) == 0 {
		return
	}
	if _, err := c.cache.Delete(ctx, keys...); err != nil {
		c.logger.Warn("query invalidation failed", zap.Int("keys", len(keys)), zap.Error(err))
		return
	}
	for _, key := range keys {
		c.queryKeys.Delete(key)
	}
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}
