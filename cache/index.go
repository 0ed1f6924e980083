package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-datastore-cache/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KSet writes value under queryKey in the transactional store and adds
// queryKey to the index of every category, in one MULTI/EXEC transaction.
// Categories are indexed in the order given, duplicates included.
func (q *QueryCache[K, Q, E]) KSet(ctx context.Context, queryKey string, value any, categories []string, opts ...Option) error {
	if q.c.tx == nil {
		return ErrNoTransactionalStore
	}
	exp := q.c.resolveTTL(buildOptions(opts), KindQuery)
	return q.kset(ctx, queryKey, value, categories, exp.For(q.c.tx.Name()))
}

func (q *QueryCache[K, Q, E]) kset(ctx context.Context, queryKey string, value any, categories []string, ttl time.Duration) error {
	if q.c.tx == nil {
		return ErrNoTransactionalStore
	}
	data, err := cacheinfra.EncodeValue(value)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "cache: encode %s", queryKey), ErrWriteFailed)
	}
	if ttl < 0 {
		ttl = 0
	}

	_, err = q.c.tx.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, category := range categories {
			pipe.SAdd(ctx, q.c.IndexKey(category), queryKey)
		}
		pipe.Set(ctx, queryKey, data, ttl)
		return nil
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "cache: kset %s", queryKey), ErrWriteFailed)
	}

	q.c.logger.Debug("query indexed",
		zap.String("key", queryKey),
		zap.Strings("categories", categories),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// ClearQueriesEntityKind removes every cached query indexed under the given
// categories, along with the index sets, and returns the number of keys
// the transactional store deleted. Without a transactional store it fails with
// ErrNoTransactionalStore, which callers that invalidate unconditionally can
// test with IsNoTransactionalStore.
func (q *QueryCache[K, Q, E]) ClearQueriesEntityKind(ctx context.Context, categories ...string) (int64, error) {
	if q.c.tx == nil {
		return 0, ErrNoTransactionalStore
	}

	categories = dedupe(categories)
	if len(categories) == 0 {
		return 0, nil
	}

	indexKeys := make([]string, len(categories))
	for i, category := range categories {
		indexKeys[i] = q.c.IndexKey(category)
	}

	client := q.c.tx.Client()
	members := make([]*redis.StringSliceCmd, len(indexKeys))
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range indexKeys {
			members[i] = pipe.SMembers(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, errors.Wrap(err, "cache: read query index")
	}

	var keys []string
	for _, cmd := range members {
		keys = append(keys, cmd.Val()...)
	}
	keys = dedupe(append(keys, indexKeys...))

	removed, err := client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "cache: clear query index")
	}

	// Copies primed into the other stores are not indexed there.
	if q.c.noTx != nil {
		if _, err := q.c.noTx.Delete(ctx, keys...); err != nil {
			return removed, errors.Wrap(err, "cache: clear queries")
		}
	}

	q.c.logger.Debug("queries cleared",
		zap.Strings("categories", categories),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// dedupe drops repeated and empty values, keeping first occurrences in order.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
