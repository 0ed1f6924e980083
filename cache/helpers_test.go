package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-datastore-cache/pkg/testsupport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type userKey struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type user struct {
	Name string   `json:"name"`
	Key  *userKey `json:"-"`
}

type userQuery struct {
	Kind  string
	Limit int
}

// mockAdapter is a datastore of users keyed by name. GetEntity returns its
// results in reverse key order.
type mockAdapter struct {
	mu         sync.Mutex
	users      map[string]string
	getCalls   [][]userKey
	queryCalls int
}

func newMockAdapter(names ...string) *mockAdapter {
	m := &mockAdapter{users: map[string]string{}}
	for _, n := range names {
		m.users[n] = n
	}
	return m
}

func (m *mockAdapter) KeyToString(k userKey) string { return k.Kind + "/" + k.Name }

func (m *mockAdapter) QueryToString(q userQuery) string {
	return NewDefaultKeySerializer().SerializeKey("query", q.Kind, q.Limit)
}

func (m *mockAdapter) GetEntity(_ context.Context, keys []userKey) ([]*user, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls = append(m.getCalls, append([]userKey(nil), keys...))

	var out []*user
	for i := len(keys) - 1; i >= 0; i-- {
		name, ok := m.users[keys[i].Name]
		if !ok {
			continue
		}
		k := keys[i]
		out = append(out, &user{Name: name, Key: &k})
	}
	if len(keys) == 1 && len(out) == 0 {
		return nil, ErrEntityNotFound
	}
	return out, nil
}

func (m *mockAdapter) RunQuery(_ context.Context, q userQuery) (QueryResult[*user], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	result := QueryResult[*user]{Meta: QueryMeta{EndCursor: "c1", MoreResults: true}}
	for _, name := range []string{"john", "mick"} {
		k := userKey{Kind: q.Kind, Name: name}
		result.Entities = append(result.Entities, &user{Name: name, Key: &k})
	}
	return result, nil
}

func (m *mockAdapter) GetEntityKindFromQuery(q userQuery) []string { return []string{q.Kind} }

func (m *mockAdapter) GetKeyFromEntity(u *user) (userKey, bool) {
	if u == nil || u.Key == nil {
		return userKey{}, false
	}
	return *u.Key, true
}

func (m *mockAdapter) AddKeyToEntity(k userKey, u *user) *user {
	if u == nil {
		return nil
	}
	u.Key = &k
	return u
}

func (m *mockAdapter) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.getCalls) + m.queryCalls
}

// bareAdapter has no optional capabilities.
type bareAdapter struct{}

func (bareAdapter) KeyToString(k string) string   { return k }
func (bareAdapter) QueryToString(q string) string { return q }
func (bareAdapter) GetEntity(_ context.Context, keys []string) ([]string, error) {
	return keys, nil
}
func (bareAdapter) RunQuery(_ context.Context, q string) (QueryResult[string], error) {
	return QueryResult[string]{Entities: []string{q}}, nil
}
func (bareAdapter) GetEntityKindFromQuery(string) []string { return nil }

// recordingStore wraps a store and records the TTL of every write.
type recordingStore struct {
	Store
	mu   sync.Mutex
	ttls []time.Duration
	sets int
}

func (r *recordingStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	r.record(ttl)
	return r.Store.Set(ctx, key, value, ttl)
}

func (r *recordingStore) MultiSet(ctx context.Context, keys []string, values []any, ttl time.Duration) error {
	r.record(ttl)
	return r.Store.MultiSet(ctx, keys, values, ttl)
}

func (r *recordingStore) record(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttls = append(r.ttls, ttl)
	r.sets++
}

func (r *recordingStore) lastTTL() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ttls) == 0 {
		return -1
	}
	return r.ttls[len(r.ttls)-1]
}

// failingStore wraps a store and fails every write.
type failingStore struct {
	Store
}

var errStoreDown = errors.New("store unavailable")

func (failingStore) Set(context.Context, string, any, time.Duration) error {
	return errStoreDown
}

func (failingStore) MultiSet(context.Context, []string, []any, time.Duration) error {
	return errStoreDown
}

func newMemory(t *testing.T, name string) Store {
	t.Helper()
	cfg := DefaultMemoryConfig()
	cfg.Name = name
	cfg.Capacity = 100
	cfg.NumShards = 4
	store, err := NewMemoryStore(cfg)
	require.NoError(t, err)
	return store
}

func newRecording(t *testing.T, name string) *recordingStore {
	t.Helper()
	return &recordingStore{Store: newMemory(t, name)}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *testsupport.CommandRecorder) {
	t.Helper()
	mr, client := testsupport.NewRedis(t)
	return mr, client, testsupport.Record(client)
}

func newTestCache(t *testing.T, adapter *mockAdapter, cfg *Config, stores ...Store) *Cache[userKey, userQuery, *user] {
	t.Helper()
	if cfg == nil {
		cfg = &Config{HashCacheKeys: Bool(false)}
	}
	c, err := New(Settings[userKey, userQuery, *user]{
		Adapter: adapter,
		Stores:  stores,
		Config:  cfg,
	})
	require.NoError(t, err)
	return c
}

func newBareCache(t *testing.T, stores ...Store) *Cache[string, string, string] {
	t.Helper()
	c, err := New(Settings[string, string, string]{
		Adapter: bareAdapter{},
		Stores:  stores,
		Config:  &Config{HashCacheKeys: Bool(false)},
	})
	require.NoError(t, err)
	return c
}

func key(name string) userKey { return userKey{Kind: "User", Name: name} }
