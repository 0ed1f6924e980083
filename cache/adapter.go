package cache

import "context"

// Adapter is the datastore contract the cache needs. K is the domain key
// type, Q the query type and E the entity type.
type Adapter[K, Q, E any] interface {
	// KeyToString serializes a key. Equal keys must serialize equally.
	KeyToString(key K) string
	// QueryToString serializes a query. Equal queries must serialize equally.
	QueryToString(query Q) string
	// GetEntity fetches entities by key. The result order is not trusted.
	// A single missing key is reported with ErrEntityNotFound.
	GetEntity(ctx context.Context, keys []K) ([]E, error)
	// RunQuery executes a query.
	RunQuery(ctx context.Context, query Q) (QueryResult[E], error)
	// GetEntityKindFromQuery names the entity categories a query reads.
	GetEntityKindFromQuery(query Q) []string
}

// KeyExtractor is implemented by adapters whose entities carry their key.
// It must tolerate zero value entities.
type KeyExtractor[K, E any] interface {
	GetKeyFromEntity(entity E) (K, bool)
}

// KeyAttacher is implemented by adapters that can attach a key reference to
// an entity restored from the cache. With an in-process store the entity is
// the cached value itself, so setting the key in place writes to the cache;
// return a copy to leave it untouched.
type KeyAttacher[K, E any] interface {
	AddKeyToEntity(key K, entity E) E
}

// UnwrappedFetcher is implemented by adapters whose GetEntity and RunQuery
// are themselves served through the cache. The default fetch handlers use
// the unwrapped variants so a miss reaches the datastore.
type UnwrappedFetcher[K, Q, E any] interface {
	GetEntityUnwrapped(ctx context.Context, keys []K) ([]E, error)
	RunQueryUnwrapped(ctx context.Context, query Q) (QueryResult[E], error)
}

// ClientWrapper is implemented by adapters that route their own reads
// through the cache. WrapClient is called once by New when
// Config.WrapClient is on.
type ClientWrapper[K, Q, E any] interface {
	WrapClient(c *Cache[K, Q, E])
}

// EntityFetcher loads entities for a set of keys on a cache miss.
type EntityFetcher[K, E any] func(ctx context.Context, keys []K) ([]E, error)

// QueryFetcher runs a query on a cache miss.
type QueryFetcher[Q, E any] func(ctx context.Context, query Q) (QueryResult[E], error)

// QueryMeta is the pagination metadata returned with a query result.
type QueryMeta struct {
	EndCursor   string `json:"endCursor,omitempty"`
	MoreResults bool   `json:"moreResults,omitempty"`
	Total       int    `json:"total,omitempty"`
}

// QueryResult is a page of entities and its metadata, cached as a unit.
type QueryResult[E any] struct {
	Entities []E       `json:"entities"`
	Meta     QueryMeta `json:"meta"`
}

// Record pairs a cached entity with its key reference, for stores that hold
// serialized values and cannot carry the reference on the entity itself.
type Record[K, E any] struct {
	Entity E  `json:"entity"`
	Key    *K `json:"key,omitempty"`
}

// queryRecord is the serialized form of a QueryResult in the transactional store.
type queryRecord[K, E any] struct {
	Entities []Record[K, E] `json:"entities"`
	Meta     QueryMeta      `json:"meta"`
}

// EntityPair is one key/value pair of an entity multi set.
type EntityPair[K, E any] struct {
	Key   K
	Value E
}

// QueryPair is one query/result pair of a query multi set.
type QueryPair[Q, E any] struct {
	Query  Q
	Result QueryResult[E]
}

// hooks is the adapter surface resolved once at construction, optional
// capabilities replaced by their defaults.
type hooks[K, Q, E any] struct {
	keyToString      func(K) string
	queryToString    func(Q) string
	getKeyFromEntity func(E) (K, bool)
	addKeyToEntity   func(K, E) E
	getEntity        EntityFetcher[K, E]
	runQuery         QueryFetcher[Q, E]
	entityKinds      func(Q) []string

	// extractsKeys is false when getKeyFromEntity is the default.
	extractsKeys bool
}

func resolveHooks[K, Q, E any](adapter Adapter[K, Q, E], hashKeys bool) hooks[K, Q, E] {
	h := hooks[K, Q, E]{
		keyToString:   adapter.KeyToString,
		queryToString: adapter.QueryToString,
		getKeyFromEntity: func(E) (K, bool) {
			var zero K
			return zero, false
		},
		addKeyToEntity: func(_ K, e E) E { return e },
		getEntity:      adapter.GetEntity,
		runQuery:       adapter.RunQuery,
		entityKinds:    adapter.GetEntityKindFromQuery,
	}

	if ex, ok := adapter.(KeyExtractor[K, E]); ok {
		h.getKeyFromEntity = ex.GetKeyFromEntity
		h.extractsKeys = true
	}
	if at, ok := adapter.(KeyAttacher[K, E]); ok {
		h.addKeyToEntity = at.AddKeyToEntity
	}
	if uw, ok := adapter.(UnwrappedFetcher[K, Q, E]); ok {
		h.getEntity = uw.GetEntityUnwrapped
		h.runQuery = uw.RunQueryUnwrapped
	}

	if hashKeys {
		keyToString, queryToString := h.keyToString, h.queryToString
		h.keyToString = func(k K) string { return hashKey(keyToString(k)) }
		h.queryToString = func(q Q) string { return hashKey(queryToString(q)) }
	}
	return h
}
