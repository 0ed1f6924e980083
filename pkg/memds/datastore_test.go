package memds

import (
	"context"
	"testing"

	"github.com/goliatone/go-datastore-cache/cache"
	"github.com/goliatone/go-datastore-cache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func seed(t *testing.T, d *Datastore) {
	t.Helper()
	ctx := context.Background()
	users := []struct {
		name, role string
	}{
		{"ana", "admin"},
		{"bob", "member"},
		{"cid", "admin"},
		{"dee", "member"},
		{"eve", "admin"},
	}
	for _, u := range users {
		require.NoError(t, d.Put(ctx, Key{Kind: "User", Name: u.name}, map[string]any{"role": u.role}))
	}
	require.NoError(t, d.Put(ctx, Key{Kind: "Post", Name: "hello"}, map[string]any{"author": "ana"}))
}

func names(entities []*Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		if e == nil {
			continue
		}
		out[i] = e.Key.Name
	}
	return out
}

func TestDatastore_Put(t *testing.T) {
	d := New()
	ctx := context.Background()

	err := d.Put(ctx, Key{Kind: "User"}, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	props := map[string]any{"role": "admin"}
	require.NoError(t, d.Put(ctx, Key{Kind: "User", Name: "ana"}, props))
	props["role"] = "changed"

	got, err := d.Get(ctx, Key{Kind: "User", Name: "ana"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "admin", got[0].Props["role"], "stored props are copied")
}

func TestDatastore_GetUnwrapped(t *testing.T) {
	d := New()
	seed(t, d)
	ctx := context.Background()

	got, err := d.Get(ctx,
		Key{Kind: "User", Name: "eve"},
		Key{Kind: "User", Name: "zed"},
		Key{Kind: "User", Name: "ana"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"eve", "", "ana"}, names(got))
	assert.Nil(t, got[1])

	_, err = d.GetEntityUnwrapped(ctx, []Key{{Kind: "User", Name: "zed"}})
	assert.True(t, cache.IsNotFound(err))

	require.NoError(t, d.Delete(ctx, Key{Kind: "User", Name: "eve"}))
	got, err = d.Get(ctx, Key{Kind: "User", Name: "eve"})
	require.NoError(t, err)
	assert.Nil(t, got[0])
}

func TestDatastore_RunUnwrapped(t *testing.T) {
	d := New()
	seed(t, d)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []string
		meta  cache.QueryMeta
	}{
		{
			name:  "whole kind",
			query: Query{Kind: "User"},
			want:  []string{"ana", "bob", "cid", "dee", "eve"},
			meta:  cache.QueryMeta{EndCursor: "eve", Total: 5},
		},
		{
			name:  "filtered",
			query: Query{Kind: "User", Filters: []Filter{{Field: "role", Value: "admin"}}},
			want:  []string{"ana", "cid", "eve"},
			meta:  cache.QueryMeta{EndCursor: "eve", Total: 3},
		},
		{
			name:  "first page",
			query: Query{Kind: "User", Limit: 2},
			want:  []string{"ana", "bob"},
			meta:  cache.QueryMeta{EndCursor: "bob", MoreResults: true, Total: 2},
		},
		{
			name:  "next page",
			query: Query{Kind: "User", Start: "bob", Limit: 2},
			want:  []string{"cid", "dee"},
			meta:  cache.QueryMeta{EndCursor: "dee", MoreResults: true, Total: 2},
		},
		{
			name:  "unknown kind",
			query: Query{Kind: "Comment"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := d.Run(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(result.Entities))
			assert.Equal(t, tt.meta, result.Meta)
		})
	}
}

func TestDatastore_AdapterHooks(t *testing.T) {
	d := New()
	key := Key{Kind: "User", Name: "ana"}

	_, ok := d.GetKeyFromEntity(nil)
	assert.False(t, ok)
	_, ok = d.GetKeyFromEntity(&Entity{})
	assert.False(t, ok)

	attached := d.AddKeyToEntity(key, &Entity{Props: map[string]any{"role": "admin"}})
	got, ok := d.GetKeyFromEntity(attached)
	require.True(t, ok)
	assert.Equal(t, key, got)
	assert.Nil(t, d.AddKeyToEntity(key, nil))

	assert.Equal(t, "User/ana", d.KeyToString(key))
	assert.Equal(t, []string{"User"}, d.GetEntityKindFromQuery(Query{Kind: "User"}))
	assert.Equal(t,
		d.QueryToString(Query{Kind: "User", Filters: []Filter{{Field: "role", Value: "admin"}}}),
		d.QueryToString(Query{Kind: "User", Filters: []Filter{{Field: "role", Value: "admin"}}}),
	)
	assert.NotEqual(t,
		d.QueryToString(Query{Kind: "User", Limit: 1}),
		d.QueryToString(Query{Kind: "User", Limit: 2}),
	)
}

func TestDatastore_CachedReads(t *testing.T) {
	d := New(WithLogger(zaptest.NewLogger(t)))
	seed(t, d)
	ctx := context.Background()

	c, err := NewCache(d, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, d.cache, "the default configuration wraps the datastore")

	keys := []Key{{Kind: "User", Name: "ana"}, {Kind: "User", Name: "bob"}}
	for range 3 {
		got, err := d.Get(ctx, keys...)
		require.NoError(t, err)
		assert.Equal(t, []string{"ana", "bob"}, names(got))
	}
	assert.Equal(t, int64(1), d.Stats().Gets)

	q := Query{Kind: "User", Filters: []Filter{{Field: "role", Value: "member"}}}
	for range 3 {
		result, err := d.Run(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "dee"}, names(result.Entities))
	}
	assert.Equal(t, int64(1), d.Stats().Queries)

	require.NoError(t, d.Put(ctx, keys[0], map[string]any{"role": "member"}))
	_, ok, err := c.Keys().Get(ctx, keys[0])
	require.NoError(t, err)
	assert.False(t, ok, "writes drop the entity")

	got, err := d.Get(ctx, keys...)
	require.NoError(t, err)
	assert.Equal(t, "member", got[0].Props["role"])
	assert.Equal(t, int64(2), d.Stats().Gets)
}

func TestDatastore_CachedQueriesWithRedis(t *testing.T) {
	mr, client := testsupport.NewRedis(t)
	d := New()
	seed(t, d)
	ctx := context.Background()

	memory, err := cache.NewMemoryStore(cache.DefaultMemoryConfig())
	require.NoError(t, err)
	c, err := NewCache(d, []cache.Store{memory, cache.NewRedisStore(client)}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	admins := Query{Kind: "User", Filters: []Filter{{Field: "role", Value: "admin"}}}
	posts := Query{Kind: "Post"}
	for range 2 {
		result, err := d.Run(ctx, admins)
		require.NoError(t, err)
		assert.Equal(t, []string{"ana", "cid", "eve"}, names(result.Entities))
		_, err = d.Run(ctx, posts)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), d.Stats().Queries)
	assert.True(t, mr.Exists(c.IndexKey("User")))
	assert.True(t, mr.Exists(c.IndexKey("Post")))

	require.NoError(t, d.Put(ctx, Key{Kind: "User", Name: "fay"}, map[string]any{"role": "admin"}))
	assert.False(t, mr.Exists(c.IndexKey("User")), "the kind index is cleared")
	assert.True(t, mr.Exists(c.IndexKey("Post")), "other kinds keep their queries")

	result, err := d.Run(ctx, admins)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "cid", "eve", "fay"}, names(result.Entities))
	_, err = d.Run(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Stats().Queries)
}

func TestDatastore_RedisRestoresKeys(t *testing.T) {
	_, client := testsupport.NewRedis(t)
	d := New()
	seed(t, d)
	ctx := context.Background()

	_, err := NewCache(d, []cache.Store{cache.NewRedisStore(client)}, nil, nil)
	require.NoError(t, err)

	q := Query{Kind: "User", Limit: 3}
	first, err := d.Run(ctx, q)
	require.NoError(t, err)
	second, err := d.Run(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, int64(1), d.Stats().Queries)
	require.Len(t, second.Entities, 3)
	for i, e := range second.Entities {
		require.NotNil(t, e.Key, "entity %d lost its key", i)
		assert.Equal(t, *first.Entities[i].Key, *e.Key)
		assert.Equal(t, first.Entities[i].Props, e.Props)
	}
	assert.Equal(t, first.Meta, second.Meta)

	keys := []Key{{Kind: "User", Name: "dee"}, {Kind: "User", Name: "nobody"}, {Kind: "User", Name: "ana"}}
	for range 2 {
		got, err := d.Get(ctx, keys...)
		require.NoError(t, err)
		assert.Equal(t, []string{"dee", "", "ana"}, names(got))
	}
	assert.Equal(t, int64(2), d.Stats().Gets, "the missing key is fetched again")
}
