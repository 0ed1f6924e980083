package memds

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-datastore-cache/cache"
	"go.uber.org/zap"
)

// ErrInvalidKey is returned for keys without a kind or a name.
var ErrInvalidKey = errors.New("memds: key needs a kind and a name")

// Key identifies an entity by kind and name.
type Key struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (k Key) String() string { return k.Kind + "/" + k.Name }

func (k Key) validate() error {
	if k.Kind == "" || k.Name == "" {
		return errors.Wrapf(ErrInvalidKey, "key %q", k.String())
	}
	return nil
}

// Entity is a stored entity. Key is the reference attached on reads and is
// not part of the serialized payload.
type Entity struct {
	Key   *Key           `json:"-"`
	Props map[string]any `json:"props"`
}

// Filter is an equality filter on one property.
type Filter struct {
	Field string
	Value any
}

// Query selects the entities of one kind matching every filter, ordered by
// name. Start is the cursor of a previous page.
type Query struct {
	Kind    string
	Filters []Filter
	Start   string
	Limit   int
}

// Cache is the cache specialization serving a Datastore.
type Cache = cache.Cache[Key, Query, *Entity]

// Stats counts the reads that reached the datastore.
type Stats struct {
	Gets    int64
	Queries int64
}

// Datastore is an in-memory kind/name datastore. It implements the cache
// adapter contract, key reference hooks included. Once wrapped by a Cache its
// Get and Run are served through it and writes invalidate it.
type Datastore struct {
	mu    sync.RWMutex
	kinds map[string]map[string]map[string]any

	cache  *Cache
	logger *zap.Logger

	gets    atomic.Int64
	queries atomic.Int64
}

// Option configures a Datastore.
type Option func(*Datastore)

// WithLogger sets the datastore logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Datastore) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New returns an empty datastore.
func New(opts ...Option) *Datastore {
	d := &Datastore{
		kinds:  map[string]map[string]map[string]any{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("memds")
	return d
}

// Stats returns the datastore read counters.
func (d *Datastore) Stats() Stats {
	return Stats{Gets: d.gets.Load(), Queries: d.queries.Load()}
}

// Put stores props under key, replacing any previous entity.
func (d *Datastore) Put(ctx context.Context, key Key, props map[string]any) error {
	if err := key.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	byName, ok := d.kinds[key.Kind]
	if !ok {
		byName = map[string]map[string]any{}
		d.kinds[key.Kind] = byName
	}
	byName[key.Name] = copyProps(props)
	d.mu.Unlock()

	d.logger.Debug("put", zap.Stringer("key", key))
	return d.invalidate(ctx, key)
}

// Delete removes the entities of keys. Unknown keys are ignored.
func (d *Datastore) Delete(ctx context.Context, keys ...Key) error {
	d.mu.Lock()
	for _, k := range keys {
		delete(d.kinds[k.Kind], k.Name)
	}
	d.mu.Unlock()

	d.logger.Debug("delete", zap.Int("keys", len(keys)))
	return d.invalidate(ctx, keys...)
}

// invalidate drops keys from the cache along with every cached query of
// their kinds.
func (d *Datastore) invalidate(ctx context.Context, keys ...Key) error {
	if d.cache == nil || len(keys) == 0 {
		return nil
	}

	if _, err := d.cache.Keys().Del(ctx, keys...); err != nil {
		return errors.Wrap(err, "memds: invalidate keys")
	}

	kinds := make([]string, 0, len(keys))
	for _, k := range keys {
		kinds = append(kinds, k.Kind)
	}
	if _, err := d.cache.Queries().ClearQueriesEntityKind(ctx, kinds...); err != nil && !cache.IsNoTransactionalStore(err) {
		return errors.Wrap(err, "memds: invalidate queries")
	}
	return nil
}

// Get returns the entities of keys in key order, nil for missing ones.
func (d *Datastore) Get(ctx context.Context, keys ...Key) ([]*Entity, error) {
	if d.cache != nil {
		return d.cache.Keys().Read(ctx, keys, nil)
	}
	entities, err := d.GetEntityUnwrapped(ctx, keys)
	if err != nil && !cache.IsNotFound(err) {
		return nil, err
	}
	out := make([]*Entity, len(keys))
	for _, e := range entities {
		for i, k := range keys {
			if *e.Key == k {
				out[i] = e
			}
		}
	}
	return out, nil
}

// Run executes q.
func (d *Datastore) Run(ctx context.Context, q Query) (cache.QueryResult[*Entity], error) {
	if d.cache != nil {
		return d.cache.Queries().Read(ctx, q, nil)
	}
	return d.RunQueryUnwrapped(ctx, q)
}

func (d *Datastore) KeyToString(k Key) string { return k.String() }

func (d *Datastore) QueryToString(q Query) string {
	return cache.NewDefaultKeySerializer().SerializeKey("query", q.Kind, q.Filters, q.Start, q.Limit)
}

func (d *Datastore) GetEntityKindFromQuery(q Query) []string { return []string{q.Kind} }

func (d *Datastore) GetEntity(ctx context.Context, keys []Key) ([]*Entity, error) {
	return d.Get(ctx, keys...)
}

func (d *Datastore) RunQuery(ctx context.Context, q Query) (cache.QueryResult[*Entity], error) {
	return d.Run(ctx, q)
}

// GetEntityUnwrapped reads keys from the datastore. Missing keys are left
// out of the result, and a single missing key fails with
// cache.ErrEntityNotFound.
func (d *Datastore) GetEntityUnwrapped(_ context.Context, keys []Key) ([]*Entity, error) {
	d.gets.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		props, ok := d.kinds[k.Kind][k.Name]
		if !ok {
			continue
		}
		out = append(out, newEntity(k, props))
	}
	if len(keys) == 1 && len(out) == 0 {
		return nil, errors.Wrapf(cache.ErrEntityNotFound, "key %s", keys[0])
	}
	return out, nil
}

// RunQueryUnwrapped runs q against the datastore.
func (d *Datastore) RunQueryUnwrapped(_ context.Context, q Query) (cache.QueryResult[*Entity], error) {
	d.queries.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	byName := d.kinds[q.Kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		if name > q.Start {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := cache.QueryResult[*Entity]{Entities: []*Entity{}}
	for _, name := range names {
		props := byName[name]
		if !matches(props, q.Filters) {
			continue
		}
		if q.Limit > 0 && len(result.Entities) == q.Limit {
			result.Meta.MoreResults = true
			break
		}
		result.Entities = append(result.Entities, newEntity(Key{Kind: q.Kind, Name: name}, props))
		result.Meta.EndCursor = name
	}
	result.Meta.Total = len(result.Entities)
	return result, nil
}

func (d *Datastore) GetKeyFromEntity(e *Entity) (Key, bool) {
	if e == nil || e.Key == nil {
		return Key{}, false
	}
	return *e.Key, true
}

func (d *Datastore) AddKeyToEntity(k Key, e *Entity) *Entity {
	if e == nil {
		return nil
	}
	if e.Key != nil && *e.Key == k {
		return e
	}
	out := *e
	out.Key = &k
	return &out
}

func (d *Datastore) WrapClient(c *Cache) {
	d.cache = c
}

// NewCache builds a Cache over d. With the default configuration d is
// wrapped and its reads go through the cache.
func NewCache(d *Datastore, stores []cache.Store, cfg *cache.Config, logger *zap.Logger) (*Cache, error) {
	return cache.New(cache.Settings[Key, Query, *Entity]{
		Adapter: d,
		Stores:  stores,
		Config:  cfg,
		Logger:  logger,
	})
}

func matches(props map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := props[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

func newEntity(k Key, props map[string]any) *Entity {
	return &Entity{Key: &k, Props: copyProps(props)}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
