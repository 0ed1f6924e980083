package di

import (
	"github.com/goliatone/go-datastore-cache/cache"
	"github.com/goliatone/go-datastore-cache/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Settings configures a Container.
type Settings struct {
	// Config is the overlay handed to every cache. Nil uses the defaults.
	Config *cache.Config
	// Memory configures the in-process store. Nil uses DefaultMemoryConfig.
	Memory *cache.MemoryConfig
	// Redis, when set, mounts a transactional store after the memory store.
	Redis     redis.UniversalClient
	RedisName string
	Logger    *zap.Logger
	// KeySerializer canonicalizes repository queries.
	KeySerializer cache.KeySerializer
}

// Container owns the cache stores shared by the cached repositories it
// builds. Entity and query keys are namespaced by kind, so repositories of
// different record types can share stores.
type Container struct {
	stores        []cache.Store
	overlay       *cache.Config
	config        cache.Config
	keySerializer cache.KeySerializer
	logger        *zap.Logger
}

// NewContainer validates the configuration and builds the store set.
func NewContainer(s Settings) (*Container, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := cache.Resolve(s.Config)
	if err != nil {
		return nil, err
	}

	memCfg := cache.DefaultMemoryConfig()
	if s.Memory != nil {
		memCfg = *s.Memory
	}
	memory, err := cache.NewMemoryStore(memCfg)
	if err != nil {
		return nil, err
	}
	stores := []cache.Store{memory}

	if s.Redis != nil {
		var opts []cache.RedisStoreOption
		if s.RedisName != "" {
			opts = append(opts, cache.WithRedisName(s.RedisName))
		}
		stores = append(stores, cache.NewRedisStore(s.Redis, opts...))
	}

	keySerializer := s.KeySerializer
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}

	var overlay *cache.Config
	if s.Config != nil {
		c := s.Config.Clone()
		overlay = &c
	}

	names := make([]string, len(stores))
	for i, st := range stores {
		names[i] = st.Name()
	}
	logger.Debug("cache container ready", zap.Strings("stores", names))

	return &Container{
		stores:        stores,
		overlay:       overlay,
		config:        config,
		keySerializer: keySerializer,
		logger:        logger,
	}, nil
}

// NewContainerWithDefaults builds a container with a single memory store and
// the default configuration.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(Settings{})
}

// Stores returns the mounted stores in read order.
func (c *Container) Stores() []cache.Store {
	return append([]cache.Store(nil), c.stores...)
}

// KeySerializer returns the serializer shared by the repositories.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns the resolved configuration.
func (c *Container) Config() cache.Config {
	return c.config.Clone()
}

// RepositoryOption customizes a repository built by NewCachedRepository.
type RepositoryOption func(*repositorycache.Settings)

// WithKind sets the entity category of the repository records.
func WithKind(kind string) RepositoryOption {
	return func(s *repositorycache.Settings) {
		s.Kind = kind
	}
}

// NewCachedRepository wraps base with a cache over the container stores.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[User](container, baseUserRepository)
func NewCachedRepository[T any](container *Container, base repository.Repository[T], opts ...RepositoryOption) (*repositorycache.CachedRepository[T], error) {
	settings := repositorycache.Settings{
		Stores:        container.Stores(),
		Logger:        container.logger,
		KeySerializer: container.keySerializer,
	}
	if container.overlay != nil {
		cfg := container.overlay.Clone()
		settings.Config = &cfg
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return repositorycache.New(base, settings)
}
