package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// hashKey bounds the length of a serialized key. Collisions are possible
// and accepted.
func hashKey(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}

// EntityKey returns the canonical cache key of an entity key.
func (c *Cache[K, Q, E]) EntityKey(key K) string {
	return c.config.CachePrefix.Entity + c.hooks.keyToString(key)
}

// QueryKey returns the canonical cache key of a query.
func (c *Cache[K, Q, E]) QueryKey(query Q) string {
	return c.config.CachePrefix.Query + c.hooks.queryToString(query)
}

// IndexKey returns the key of the index set holding the query keys of an
// entity category.
func (c *Cache[K, Q, E]) IndexKey(category string) string {
	return c.config.CachePrefix.Query + category
}

func (c *Cache[K, Q, E]) entityKeys(keys []K) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = c.EntityKey(k)
	}
	return out
}

func (c *Cache[K, Q, E]) queryKeys(queries []Q) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = c.QueryKey(q)
	}
	return out
}
