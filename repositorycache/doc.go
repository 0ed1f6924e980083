// Package repositorycache puts the datastore cache in front of go-repository-bun
// repositories.
//
// Adapter exposes a repository.Repository[T] to the cache package: record IDs
// are entity keys, repository reads (Get, GetByID, GetByIdentifier, List,
// Count with their criteria) are queries. The entity kind defaults to the
// pluralized snake case name of T.
//
// CachedRepository is a drop-in repository.Repository[T]:
//
//	users, err := repositorycache.New[User](base, repositorycache.Settings{
//		Stores: []cache.Store{memory, cache.NewRedisStore(client)},
//		Logger: logger,
//	})
//	user, err := users.GetByID(ctx, id)            // entity cache
//	list, total, err := users.List(ctx, criteria)  // query cache
//
// GetByID without criteria reads the entity cache, every other read the query
// cache. Reads inside a transaction and raw SQL are never cached.
//
// Writes pass through and, once they succeed, drop the cached records they
// touched and every cached query of the kind. With a transactional store the
// queries are removed through its index, so queries cached by other processes
// go too. Without one only the queries this repository cached are removed.
//
// Caching is on when Config.Global is set. WithCache overrides it per call and
// WithCacheTags indexes a read under extra kinds, for reads joining relations:
//
//	ctx = repositorycache.WithCacheTags(ctx, "users")
//	posts, _, err := cachedPosts.List(ctx, withAuthor)
//
// Query keys name criteria by their function symbol. Closures from one
// factory share a symbol whatever they capture, so reads with closure
// criteria run uncached unless WithQueryKey names them:
//
//	ctx = repositorycache.WithQueryKey(ctx, "status="+status)
//	users, _, err := cachedUsers.List(ctx, byStatus(status))
package repositorycache
