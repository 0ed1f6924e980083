package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// EntityCache is the cache-aside layer for point lookups by key.
type EntityCache[K, Q, E any] struct {
	c *Cache[K, Q, E]
}

// Read returns the entities of keys in key order, fetching the ones missing
// from the cache with a single call to fetch and priming the cache with them.
// A nil fetch uses the adapter.
//
// Keys the fetch does not return, or reports with ErrEntityNotFound, come
// back as zero values, so E is best a pointer type. ReadFound also reports
// which slots were resolved. Any other fetch error aborts the read. When
// priming fails the entities are returned along with the error.
func (k *EntityCache[K, Q, E]) Read(ctx context.Context, keys []K, fetch EntityFetcher[K, E], opts ...Option) ([]E, error) {
	entities, _, err := k.ReadFound(ctx, keys, fetch, opts...)
	return entities, err
}

// ReadFound is Read that also returns, per key, whether an entity was found
// in the cache or returned by the fetch.
func (k *EntityCache[K, Q, E]) ReadFound(ctx context.Context, keys []K, fetch EntityFetcher[K, E], opts ...Option) ([]E, []bool, error) {
	if len(keys) == 0 {
		return []E{}, []bool{}, nil
	}
	if fetch == nil {
		fetch = k.c.hooks.getEntity
	}

	exp := k.c.resolveTTL(buildOptions(opts), KindEntity)
	strKeys := k.c.entityKeys(keys)

	cached, err := k.c.read(ctx, strKeys)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cache: read entities")
	}

	lookup := make(map[string]E, len(keys))
	hits := 0
	for i, raw := range cached {
		if raw == nil {
			continue
		}
		entity, err := decodeValue[E](raw)
		if err != nil {
			return nil, nil, err
		}
		lookup[strKeys[i]] = k.c.hooks.addKeyToEntity(keys[i], entity)
		hits++
	}

	if hits == len(keys) {
		k.c.logger.Debug("entity cache hit", zap.Int("keys", len(keys)))
		entities, found := k.collect(strKeys, lookup)
		return entities, found, nil
	}

	// Duplicate keys are fetched once.
	var (
		missing    []K
		missingStr []string
	)
	pending := make(map[string]struct{}, len(keys)-hits)
	for i, sk := range strKeys {
		if _, ok := lookup[sk]; ok {
			continue
		}
		if _, ok := pending[sk]; ok {
			continue
		}
		pending[sk] = struct{}{}
		missing = append(missing, keys[i])
		missingStr = append(missingStr, sk)
	}
	if len(missing) == 0 {
		entities, found := k.collect(strKeys, lookup)
		return entities, found, nil
	}
	k.c.logger.Debug("entity cache miss",
		zap.Int("keys", len(keys)),
		zap.Int("hits", hits),
		zap.Int("misses", len(missing)),
	)

	fetched, err := fetch(ctx, missing)
	if err != nil {
		if IsNotFound(err) {
			entities, found := k.collect(strKeys, lookup)
			return entities, found, nil
		}
		return nil, nil, errors.Wrap(err, "cache: fetch entities")
	}

	ordered, resolved := k.order(fetched, missing, missingStr)

	primeKeys := make([]string, 0, len(missing))
	primeValues := make([]any, 0, len(missing))
	for i, sk := range missingStr {
		if !resolved[i] {
			continue
		}
		entity := k.c.hooks.addKeyToEntity(missing[i], ordered[i])
		lookup[sk] = entity
		primeKeys = append(primeKeys, sk)
		primeValues = append(primeValues, entity)
	}
	if unresolved := len(missing) - len(primeKeys); unresolved > 0 {
		k.c.logger.Debug("entities not returned by fetch",
			zap.Int("requested", len(missing)),
			zap.Int("fetched", len(fetched)),
			zap.Int("unresolved", unresolved),
		)
	}

	entities, found := k.collect(strKeys, lookup)
	if err := k.c.prime(ctx, k.c.view, primeKeys, primeValues, exp); err != nil {
		return entities, found, err
	}
	return entities, found, nil
}

// ReadOne is Read for a single key. A key the fetch does not return fails
// with ErrEntityNotFound.
func (k *EntityCache[K, Q, E]) ReadOne(ctx context.Context, key K, fetch EntityFetcher[K, E], opts ...Option) (E, error) {
	var zero E
	if fetch == nil {
		fetch = k.c.hooks.getEntity
	}

	exp := k.c.resolveTTL(buildOptions(opts), KindEntity)
	strKey := k.c.EntityKey(key)

	raw, ok, err := k.c.view.Get(ctx, strKey)
	if err != nil {
		return zero, errors.Wrap(err, "cache: read entity")
	}
	if ok {
		entity, err := decodeValue[E](raw)
		if err != nil {
			return zero, err
		}
		return k.c.hooks.addKeyToEntity(key, entity), nil
	}

	fetched, err := fetch(ctx, []K{key})
	if err != nil {
		return zero, errors.Wrap(err, "cache: fetch entity")
	}
	if len(fetched) == 0 {
		return zero, errors.Wrapf(ErrEntityNotFound, "key %s", strKey)
	}

	entity := k.c.hooks.addKeyToEntity(key, fetched[0])
	if err := k.c.prime(ctx, k.c.view, []string{strKey}, []any{entity}, exp); err != nil {
		return entity, err
	}
	return entity, nil
}

// order lines fetched entities up with keys. A fetch may leave missing keys
// out, so without a key extractor the fetch order is only trusted when it
// returns exactly one entity per key.
func (k *EntityCache[K, Q, E]) order(fetched []E, keys []K, strKeys []string) ([]E, []bool) {
	out := make([]E, len(keys))
	found := make([]bool, len(keys))

	if len(keys) == 1 || !k.c.hooks.extractsKeys {
		if len(fetched) != len(keys) {
			return out, found
		}
		for i := range keys {
			out[i] = fetched[i]
			found[i] = true
		}
		return out, found
	}

	byKey := make(map[string]E, len(fetched))
	for _, e := range fetched {
		key, ok := k.c.hooks.getKeyFromEntity(e)
		if !ok {
			continue
		}
		byKey[k.c.EntityKey(key)] = e
	}
	for i, sk := range strKeys {
		if e, ok := byKey[sk]; ok {
			out[i] = e
			found[i] = true
		}
	}
	return out, found
}

func (k *EntityCache[K, Q, E]) collect(strKeys []string, lookup map[string]E) ([]E, []bool) {
	out := make([]E, len(strKeys))
	found := make([]bool, len(strKeys))
	for i, sk := range strKeys {
		out[i], found[i] = lookup[sk]
	}
	return out, found
}

// Get reads one entity from the cache without fetching on a miss.
func (k *EntityCache[K, Q, E]) Get(ctx context.Context, key K) (E, bool, error) {
	var zero E
	raw, ok, err := k.c.view.Get(ctx, k.c.EntityKey(key))
	if err != nil || !ok {
		return zero, false, err
	}
	entity, err := decodeValue[E](raw)
	if err != nil {
		return zero, false, err
	}
	return k.c.hooks.addKeyToEntity(key, entity), true, nil
}

// MultiGet reads entities from the cache without fetching. Misses are zero values.
func (k *EntityCache[K, Q, E]) MultiGet(ctx context.Context, keys ...K) ([]E, error) {
	if len(keys) == 0 {
		return []E{}, nil
	}
	raws, err := k.c.view.MultiGet(ctx, k.c.entityKeys(keys))
	if err != nil {
		return nil, err
	}
	out := make([]E, len(keys))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		entity, err := decodeValue[E](raw)
		if err != nil {
			return nil, err
		}
		out[i] = k.c.hooks.addKeyToEntity(keys[i], entity)
	}
	return out, nil
}

// Set caches an entity under its key.
func (k *EntityCache[K, Q, E]) Set(ctx context.Context, key K, value E, opts ...Option) error {
	exp := k.c.resolveTTL(buildOptions(opts), KindEntity)
	return k.c.prime(ctx, k.c.view, []string{k.c.EntityKey(key)}, []any{value}, exp)
}

// MultiSet caches several entities in one write and returns the values.
func (k *EntityCache[K, Q, E]) MultiSet(ctx context.Context, pairs []EntityPair[K, E], opts ...Option) ([]E, error) {
	exp := k.c.resolveTTL(buildOptions(opts), KindEntity)
	keys := make([]string, len(pairs))
	values := make([]any, len(pairs))
	out := make([]E, len(pairs))
	for i, p := range pairs {
		keys[i] = k.c.EntityKey(p.Key)
		values[i] = p.Value
		out[i] = p.Value
	}
	if err := k.c.prime(ctx, k.c.view, keys, values, exp); err != nil {
		return nil, err
	}
	return out, nil
}

// Del removes entities from every store in one batch.
func (k *EntityCache[K, Q, E]) Del(ctx context.Context, keys ...K) (int64, error) {
	return k.c.Delete(ctx, k.c.entityKeys(keys)...)
}
