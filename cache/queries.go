package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QueryCache is the cache-aside layer for query executions. With a
// transactional store mounted, every cached query key is also indexed under
// the entity categories it reads, see ClearQueriesEntityKind.
type QueryCache[K, Q, E any] struct {
	c *Cache[K, Q, E]
}

// Read returns the cached result of query, or runs it through fetch and
// caches the result. A nil fetch uses the adapter. The fetched result is
// returned as the fetch produced it. When caching it fails the result is
// returned along with the error.
func (q *QueryCache[K, Q, E]) Read(ctx context.Context, query Q, fetch QueryFetcher[Q, E], opts ...Option) (QueryResult[E], error) {
	if fetch == nil {
		fetch = q.c.hooks.runQuery
	}

	exp := q.c.resolveTTL(buildOptions(opts), KindQuery)
	key := q.c.QueryKey(query)

	raw, ok, err := q.c.view.Get(ctx, key)
	if err != nil {
		return QueryResult[E]{}, errors.Wrap(err, "cache: read query")
	}
	if ok {
		q.c.logger.Debug("query cache hit", zap.String("key", key))
		return decodeQueryResult[K, E](raw, q.c.hooks.addKeyToEntity)
	}

	q.c.logger.Debug("query cache miss", zap.String("key", key))
	result, err := fetch(ctx, query)
	if err != nil {
		return QueryResult[E]{}, errors.Wrap(err, "cache: run query")
	}

	if err := q.store(ctx, query, key, result, exp); err != nil {
		return result, err
	}
	return result, nil
}

// store caches one query result. With a transactional store the result goes
// through the indexed write and the other stores are primed separately.
func (q *QueryCache[K, Q, E]) store(ctx context.Context, query Q, key string, result QueryResult[E], exp Expiration) error {
	if q.c.tx == nil {
		return q.c.prime(ctx, q.c.view, []string{key}, []any{result}, exp)
	}

	kinds := q.c.hooks.entityKinds(query)
	record := marshalQueryResult(result, q.c.hooks.getKeyFromEntity)

	// The writes are independent, a failing store does not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		return q.kset(ctx, key, record, kinds, exp.For(q.c.tx.Name()))
	})
	if q.c.noTx != nil {
		g.Go(func() error {
			return q.c.prime(ctx, q.c.noTx, []string{key}, []any{result}, exp)
		})
	}
	return g.Wait()
}

// Get reads a query result from the cache without running the query.
func (q *QueryCache[K, Q, E]) Get(ctx context.Context, query Q) (QueryResult[E], bool, error) {
	raw, ok, err := q.c.view.Get(ctx, q.c.QueryKey(query))
	if err != nil || !ok {
		return QueryResult[E]{}, false, err
	}
	result, err := decodeQueryResult[K, E](raw, q.c.hooks.addKeyToEntity)
	if err != nil {
		return QueryResult[E]{}, false, err
	}
	return result, true, nil
}

// MultiGet reads several query results from the cache. Misses are nil.
func (q *QueryCache[K, Q, E]) MultiGet(ctx context.Context, queries ...Q) ([]*QueryResult[E], error) {
	if len(queries) == 0 {
		return []*QueryResult[E]{}, nil
	}
	raws, err := q.c.view.MultiGet(ctx, q.c.queryKeys(queries))
	if err != nil {
		return nil, err
	}
	out := make([]*QueryResult[E], len(queries))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		result, err := decodeQueryResult[K, E](raw, q.c.hooks.addKeyToEntity)
		if err != nil {
			return nil, err
		}
		out[i] = &result
	}
	return out, nil
}

// Set caches a query result.
func (q *QueryCache[K, Q, E]) Set(ctx context.Context, query Q, result QueryResult[E], opts ...Option) error {
	exp := q.c.resolveTTL(buildOptions(opts), KindQuery)
	return q.store(ctx, query, q.c.QueryKey(query), result, exp)
}

// MultiSet caches several query results and returns them. Without a
// transactional store they are written with one multi set.
func (q *QueryCache[K, Q, E]) MultiSet(ctx context.Context, pairs []QueryPair[Q, E], opts ...Option) ([]QueryResult[E], error) {
	exp := q.c.resolveTTL(buildOptions(opts), KindQuery)

	out := make([]QueryResult[E], len(pairs))
	for i, p := range pairs {
		out[i] = p.Result
	}

	if q.c.tx == nil {
		keys := make([]string, len(pairs))
		values := make([]any, len(pairs))
		for i, p := range pairs {
			keys[i] = q.c.QueryKey(p.Query)
			values[i] = p.Result
		}
		if err := q.c.prime(ctx, q.c.view, keys, values, exp); err != nil {
			return nil, err
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		g.Go(func() error {
			return q.store(gctx, p.Query, q.c.QueryKey(p.Query), p.Result, exp)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Del removes query results from every store. The category index is left
// untouched.
func (q *QueryCache[K, Q, E]) Del(ctx context.Context, queries ...Q) (int64, error) {
	return q.c.Delete(ctx, q.c.queryKeys(queries)...)
}
