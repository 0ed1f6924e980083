package cache

import (
	"bytes"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML either as a duration
// string ("10m", "1d", "1w2d") or as a plain integer number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		var seconds int64
		if err := node.Decode(&seconds); err != nil {
			return err
		}
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// TTLValue returns a pointer to d, for use in configuration literals.
func TTLValue(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// Bool returns a pointer to b, for use in configuration literals.
func Bool(b bool) *bool {
	return &b
}

// KindTTL holds the TTL for each cache kind.
type KindTTL struct {
	Entity *Duration `yaml:"entity,omitempty"`
	Query  *Duration `yaml:"query,omitempty"`
}

// For returns the TTL configured for kind and whether it was set.
func (k KindTTL) For(kind Kind) (time.Duration, bool) {
	var d *Duration
	switch kind {
	case KindEntity:
		d = k.Entity
	case KindQuery:
		d = k.Query
	}
	if d == nil {
		return 0, false
	}
	return d.Std(), true
}

func (k KindTTL) clone() KindTTL {
	return KindTTL{Entity: cloneDuration(k.Entity), Query: cloneDuration(k.Query)}
}

// TTLConfig holds the static TTLs. Entity and Query apply when a single store
// is mounted, Stores is looked up by store name when several are mounted.
//
// In YAML the per store tables sit next to the kind values:
//
//	ttl:
//	  entity: 10m
//	  query: 5s
//	  redis:
//	    entity: 1d
//	    query: 0
type TTLConfig struct {
	Entity *Duration           `yaml:"entity,omitempty"`
	Query  *Duration           `yaml:"query,omitempty"`
	Stores map[string]KindTTL `yaml:",inline"`
}

// Kind returns the single store TTLs.
func (t TTLConfig) Kind() KindTTL {
	return KindTTL{Entity: t.Entity, Query: t.Query}
}

func (t TTLConfig) isZero() bool {
	return t.Entity == nil && t.Query == nil && len(t.Stores) == 0
}

// PrefixConfig holds the key prefix for each cache kind.
type PrefixConfig struct {
	Entity string `yaml:"entity,omitempty"`
	Query  string `yaml:"query,omitempty"`
}

// For returns the prefix for kind.
func (p PrefixConfig) For(kind Kind) string {
	if kind == KindQuery {
		return p.Query
	}
	return p.Entity
}

// Config is the cache configuration. A Config passed to New is an overlay:
// nil and empty fields keep the defaults, TTL tables are merged per store
// and per kind.
type Config struct {
	TTL         TTLConfig    `yaml:"ttl"`
	CachePrefix PrefixConfig `yaml:"cachePrefix"`

	// HashCacheKeys bounds key length by hashing the serialized key or query.
	HashCacheKeys *bool `yaml:"hashCacheKeys,omitempty"`

	// WrapClient lets an adapter implementing ClientWrapper intercept its own
	// read methods with the cache.
	WrapClient *bool `yaml:"wrapClient,omitempty"`

	// Global turns caching on for wrapped call sites that do not opt in or
	// out explicitly.
	Global *bool `yaml:"global,omitempty"`
}

// DefaultConfig returns the built in configuration.
func DefaultConfig() Config {
	return Config{
		TTL: TTLConfig{
			Entity: TTLValue(10 * time.Minute),
			Query:  TTLValue(5 * time.Second),
			Stores: map[string]KindTTL{
				"memory": {
					Entity: TTLValue(10 * time.Minute),
					Query:  TTLValue(5 * time.Second),
				},
				"redis": {
					Entity: TTLValue(24 * time.Hour),
					Query:  TTLValue(0),
				},
			},
		},
		CachePrefix: PrefixConfig{
			Entity: "gck:",
			Query:  "gcq:",
		},
		HashCacheKeys: Bool(true),
		WrapClient:    Bool(true),
		Global:        Bool(true),
	}
}

// HashKeys reports whether serialized keys are hashed.
func (c Config) HashKeys() bool {
	return c.HashCacheKeys != nil && *c.HashCacheKeys
}

// WrapsClient reports whether the adapter gets to wrap its read methods.
func (c Config) WrapsClient() bool {
	return c.WrapClient != nil && *c.WrapClient
}

// IsGlobal reports whether caching is on by default for wrapped call sites.
func (c Config) IsGlobal() bool {
	return c.Global != nil && *c.Global
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := Config{
		TTL: TTLConfig{
			Entity: cloneDuration(c.TTL.Entity),
			Query:  cloneDuration(c.TTL.Query),
		},
		CachePrefix:   c.CachePrefix,
		HashCacheKeys: cloneBool(c.HashCacheKeys),
		WrapClient:    cloneBool(c.WrapClient),
		Global:        cloneBool(c.Global),
	}
	if c.TTL.Stores != nil {
		out.TTL.Stores = make(map[string]KindTTL, len(c.TTL.Stores))
		for name, ttl := range c.TTL.Stores {
			out.TTL.Stores[name] = ttl.clone()
		}
	}
	return out
}

// Validate checks prefixes and TTLs.
func (c Config) Validate() error {
	prefix := c.CachePrefix
	err := validation.Errors{
		"cachePrefix": validation.ValidateStruct(&prefix,
			validation.Field(&prefix.Entity, validation.Required),
			validation.Field(&prefix.Query,
				validation.Required,
				validation.NotIn(prefix.Entity).Error("must differ from the entity prefix"),
			),
		),
		"ttl": c.TTL.validate(),
	}.Filter()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "cache config"), ErrInvalidConfig)
	}
	return nil
}

func (t TTLConfig) validate() error {
	errs := validation.Errors{
		"entity": validation.Validate(t.Entity, nonNegative),
		"query":  validation.Validate(t.Query, nonNegative),
	}
	for name, ttl := range t.Stores {
		errs[name+".entity"] = validation.Validate(ttl.Entity, nonNegative)
		errs[name+".query"] = validation.Validate(ttl.Query, nonNegative)
	}
	return errs.Filter()
}

var nonNegative = validation.By(func(value interface{}) error {
	var d Duration
	switch v := value.(type) {
	case *Duration:
		if v == nil {
			return nil
		}
		d = *v
	case Duration:
		d = v
	default:
		return nil
	}
	if d < 0 {
		return errors.New("must be non-negative")
	}
	return nil
})

// ParseConfig reads a YAML configuration overlay.
func ParseConfig(data []byte) (*Config, error) {
	return LoadConfig(bytes.NewReader(data))
}

// LoadConfig reads a YAML configuration overlay from r.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "cache config: decode yaml")
	}
	if _, err := Resolve(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve overlays o on DefaultConfig and validates the result.
func Resolve(o *Config) (Config, error) {
	cfg := mergeConfig(o)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeConfig overlays o on top of the defaults.
func mergeConfig(o *Config) Config {
	cfg := DefaultConfig()
	if o == nil {
		return cfg
	}

	if o.TTL.Entity != nil {
		cfg.TTL.Entity = cloneDuration(o.TTL.Entity)
	}
	if o.TTL.Query != nil {
		cfg.TTL.Query = cloneDuration(o.TTL.Query)
	}
	for name, ttl := range o.TTL.Stores {
		base := cfg.TTL.Stores[name]
		if ttl.Entity != nil {
			base.Entity = cloneDuration(ttl.Entity)
		}
		if ttl.Query != nil {
			base.Query = cloneDuration(ttl.Query)
		}
		cfg.TTL.Stores[name] = base
	}

	if o.CachePrefix.Entity != "" {
		cfg.CachePrefix.Entity = o.CachePrefix.Entity
	}
	if o.CachePrefix.Query != "" {
		cfg.CachePrefix.Query = o.CachePrefix.Query
	}

	if o.HashCacheKeys != nil {
		cfg.HashCacheKeys = cloneBool(o.HashCacheKeys)
	}
	if o.WrapClient != nil {
		cfg.WrapClient = cloneBool(o.WrapClient)
	}
	if o.Global != nil {
		cfg.Global = cloneBool(o.Global)
	}
	return cfg
}

func cloneDuration(d *Duration) *Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
