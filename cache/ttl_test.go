package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func twoStoreConfig() Config {
	return mergeConfig(&Config{
		TTL: TTLConfig{
			Entity: TTLValue(30 * time.Second),
			Query:  TTLValue(3 * time.Second),
			Stores: map[string]KindTTL{
				"memory": {Entity: TTLValue(time.Minute)},
				"redis":  {Entity: TTLValue(time.Hour), Query: TTLValue(0)},
			},
		},
	})
}

func TestResolveTTL_Precedence(t *testing.T) {
	cfg := twoStoreConfig()

	tests := []struct {
		name   string
		opts   []Option
		kind   Kind
		stores int
		want   map[string]time.Duration
	}{
		{
			name:   "explicit scalar wins over everything",
			opts:   []Option{WithTTL(7 * time.Second), WithStoreTTL(map[string]time.Duration{"memory": time.Second})},
			kind:   KindEntity,
			stores: 2,
			want:   map[string]time.Duration{"memory": 7 * time.Second, "redis": 7 * time.Second},
		},
		{
			name:   "explicit store table wins over config",
			opts:   []Option{WithStoreTTL(map[string]time.Duration{"memory": time.Second, "redis": 2 * time.Second})},
			kind:   KindEntity,
			stores: 2,
			want:   map[string]time.Duration{"memory": time.Second, "redis": 2 * time.Second, "other": 0},
		},
		{
			name:   "static store table with several stores",
			kind:   KindEntity,
			stores: 2,
			want:   map[string]time.Duration{"memory": time.Minute, "redis": time.Hour},
		},
		{
			name:   "missing store entry falls back to the single value",
			kind:   KindQuery,
			stores: 2,
			want:   map[string]time.Duration{"memory": 5 * time.Second, "redis": 0, "other": 3 * time.Second},
		},
		{
			name:   "single store uses the single value",
			kind:   KindEntity,
			stores: 1,
			want:   map[string]time.Duration{"memory": 30 * time.Second, "redis": 30 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := ResolveTTL(buildOptions(tt.opts), cfg, tt.stores, tt.kind)
			for store, want := range tt.want {
				assert.Equal(t, want, exp.For(store), store)
			}
		})
	}
}

func TestResolveTTL_Deferred(t *testing.T) {
	cfg := twoStoreConfig()

	assert.False(t, ResolveTTL(Options{}, cfg, 1, KindEntity).Deferred())
	assert.True(t, ResolveTTL(Options{}, cfg, 2, KindEntity).Deferred())
	assert.False(t, ResolveTTL(buildOptions([]Option{WithTTL(time.Second)}), cfg, 2, KindEntity).Deferred())
}

func TestResolveTTL_AbsentConfigIsNoExpiration(t *testing.T) {
	exp := ResolveTTL(Options{}, Config{}, 1, KindQuery)
	assert.Equal(t, time.Duration(0), exp.For("memory"))

	exp = ResolveTTL(Options{}, Config{}, 3, KindEntity)
	assert.Equal(t, time.Duration(0), exp.For("anything"))
}

func TestWithStoreTTL_CopiesTable(t *testing.T) {
	table := map[string]time.Duration{"memory": time.Second}
	opts := buildOptions([]Option{WithStoreTTL(table)})
	table["memory"] = time.Hour

	assert.Equal(t, time.Second, opts.StoreTTL["memory"])
}
