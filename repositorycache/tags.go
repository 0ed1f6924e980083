package repositorycache

import (
	"context"
)

type (
	cacheTagsContextKey    struct{}
	cacheEnabledContextKey struct{}
	queryKeyContextKey     struct{}
)

// WithCache turns caching on or off for the reads made with ctx, overriding
// the global setting.
func WithCache(ctx context.Context, enabled bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, cacheEnabledContextKey{}, enabled)
}

func cacheEnabled(ctx context.Context, global bool) bool {
	if ctx == nil {
		return global
	}
	if enabled, ok := ctx.Value(cacheEnabledContextKey{}).(bool); ok {
		return enabled
	}
	return global
}

// WithCacheTags indexes the cached reads made with ctx under extra entity
// kinds, so writes to those kinds invalidate them too.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	existing := cacheTagsFromContext(ctx)
	combined := append(existing, tags...)
	combined = dedupeStrings(combined)
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

// WithQueryKey names the reads made with ctx. Criteria built as closures
// are only cached under such a key, since their captured values do not show
// in the serialized query.
func WithQueryKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, queryKeyContextKey{}, key)
}

func queryKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(queryKeyContextKey{}).(string)
	return key
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
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
