package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MultiStoreName is the name of the composite view over several stores.
const MultiStoreName = "multi"

// multiStore fans operations out over several stores. Reads are served by the
// first store, in mount order, holding the key. Writes and deletes go to
// every store concurrently.
type multiStore struct {
	stores []Store
}

func newMultiStore(stores []Store) *multiStore {
	return &multiStore{stores: append([]Store(nil), stores...)}
}

func (m *multiStore) Name() string { return MultiStoreName }

func (m *multiStore) Get(ctx context.Context, key string) (any, bool, error) {
	for _, s := range m.stores {
		value, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return nil, false, nil
}

// MultiGet asks each store, in order, only for the keys still missing.
func (m *multiStore) MultiGet(ctx context.Context, keys []string) ([]any, error) {
	out := make([]any, len(keys))
	pending := make([]int, len(keys))
	for i := range keys {
		pending[i] = i
	}

	for _, s := range m.stores {
		if len(pending) == 0 {
			break
		}
		subset := make([]string, len(pending))
		for i, idx := range pending {
			subset[i] = keys[idx]
		}

		values, err := s.MultiGet(ctx, subset)
		if err != nil {
			return nil, err
		}

		next := pending[:0]
		for i, idx := range pending {
			if i < len(values) && values[i] != nil {
				out[idx] = values[i]
				continue
			}
			next = append(next, idx)
		}
		pending = next
	}
	return out, nil
}

func (m *multiStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.set(ctx, key, value, FixedExpiration(ttl))
}

func (m *multiStore) MultiSet(ctx context.Context, keys []string, values []any, ttl time.Duration) error {
	return m.multiSet(ctx, keys, values, FixedExpiration(ttl))
}

func (m *multiStore) set(ctx context.Context, key string, value any, exp Expiration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error {
			return s.Set(gctx, key, value, exp.For(s.Name()))
		})
	}
	return g.Wait()
}

func (m *multiStore) multiSet(ctx context.Context, keys []string, values []any, exp Expiration) error {
	if len(keys) != len(values) {
		return ErrKeyValueMismatch
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error {
			return s.MultiSet(gctx, keys, values, exp.For(s.Name()))
		})
	}
	return g.Wait()
}

// Delete reports the highest count any single store removed.
func (m *multiStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	var (
		mu      sync.Mutex
		removed int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error {
			n, err := s.Delete(gctx, keys...)
			if err != nil {
				return err
			}
			mu.Lock()
			if n > removed {
				removed = n
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (m *multiStore) Reset(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error {
			return s.Reset(gctx)
		})
	}
	return g.Wait()
}

// writeOne and writeMany resolve the expiration per store when the target is
// a composite view.
func writeOne(ctx context.Context, s Store, key string, value any, exp Expiration) error {
	if m, ok := s.(*multiStore); ok {
		return m.set(ctx, key, value, exp)
	}
	return s.Set(ctx, key, value, exp.For(s.Name()))
}

func writeMany(ctx context.Context, s Store, keys []string, values []any, exp Expiration) error {
	if m, ok := s.(*multiStore); ok {
		return m.multiSet(ctx, keys, values, exp)
	}
	return s.MultiSet(ctx, keys, values, exp.For(s.Name()))
}
