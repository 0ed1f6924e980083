package cache

import "time"

// Kind namespaces cache keys and TTLs.
type Kind string

const (
	// KindEntity covers point lookups by key.
	KindEntity Kind = "entity"
	// KindQuery covers query results.
	KindQuery Kind = "query"
)

// Options are the per call settings of a cache operation.
type Options struct {
	// TTL is an explicit expiration for every store. It wins over everything else.
	TTL *time.Duration
	// StoreTTL maps store names to explicit expirations.
	StoreTTL map[string]time.Duration
}

// Option configures the Options of a single call.
type Option func(*Options)

// WithTTL sets an explicit expiration for every mounted store.
// Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// WithStoreTTL sets explicit expirations per store name. Stores missing
// from the table get no expiration.
func WithStoreTTL(ttl map[string]time.Duration) Option {
	return func(o *Options) {
		o.StoreTTL = make(map[string]time.Duration, len(ttl))
		for name, d := range ttl {
			o.StoreTTL[name] = d
		}
	}
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Expiration is a resolved TTL. It is either a single value or, when several
// stores are mounted, a lookup by store name.
type Expiration struct {
	value   time.Duration
	byStore func(store string) time.Duration
}

// FixedExpiration returns an Expiration that is the same for every store.
func FixedExpiration(ttl time.Duration) Expiration {
	return Expiration{value: ttl}
}

// Deferred reports whether the TTL depends on the store name.
func (e Expiration) Deferred() bool {
	return e.byStore != nil
}

// For returns the TTL to use when writing to store.
func (e Expiration) For(store string) time.Duration {
	if e.byStore != nil {
		return e.byStore(store)
	}
	return e.value
}

// ResolveTTL computes the expiration of a write of the given kind.
//
// Precedence, highest first: the explicit TTL of the call, the explicit per
// store table of the call, the static per store configuration (only when more
// than one store is mounted), the static single TTL. Anything missing
// resolves to 0, no expiration.
func ResolveTTL(opts Options, cfg Config, storeCount int, kind Kind) Expiration {
	if opts.TTL != nil {
		return FixedExpiration(*opts.TTL)
	}

	if opts.StoreTTL != nil {
		table := opts.StoreTTL
		return Expiration{byStore: func(store string) time.Duration {
			return table[store]
		}}
	}

	single, _ := cfg.TTL.Kind().For(kind)

	if storeCount > 1 {
		stores := cfg.TTL.Stores
		return Expiration{byStore: func(store string) time.Duration {
			if ttl, ok := stores[store].For(kind); ok {
				return ttl
			}
			return single
		}}
	}

	return FixedExpiration(single)
}
