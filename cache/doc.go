// Package cache is a cache-aside layer between application code and a
// NoSQL style datastore.
//
// # Overview
//
// A Cache is built around a datastore Adapter and one or more Stores:
//
//   - Keys() reads and writes entities by key. A read checks the cache,
//     fetches only the missing keys with a single call, primes the cache with
//     them and returns the entities in the order of the requested keys.
//   - Queries() reads and writes query results. When a TransactionalStore
//     (redis) is mounted every cached query key is indexed under the entity
//     categories the query reads, so ClearQueriesEntityKind can drop them all
//     when an entity of that category changes.
//
// # Basic Usage
//
//	c, err := cache.New(cache.Settings[Key, Query, *User]{
//		Adapter: adapter,
//		Stores:  []cache.Store{memory, cache.NewRedisStore(client)},
//	})
//	if err != nil {
//		return err
//	}
//
//	users, err := c.Keys().Read(ctx, []Key{k1, k2}, nil)
//	page, err := c.Queries().Read(ctx, q, nil, cache.WithTTL(time.Minute))
//	_, err = c.Queries().ClearQueriesEntityKind(ctx, "users")
//
// A nil fetch handler uses the adapter. Concurrent reads of the same missing
// key are not coalesced: each fetches and primes independently.
//
// # TTL
//
// The expiration of a write is, from highest precedence: WithTTL, WithStoreTTL,
// the per store table of Config.TTL when several stores are mounted, then the
// per kind value of Config.TTL. Zero means no expiration.
//
// # Keys
//
// Canonical keys are the kind prefix followed by the adapter serialization,
// hashed with xxhash when Config.HashCacheKeys is on. Adapters can build their
// serialization with the KeySerializer returned by NewDefaultKeySerializer.
// Functions are named by their symbol, closures additionally by their entry
// pointer, which is only stable within a process.
//
// For the repository integration see the repositorycache package.
package cache
