package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-resource-query/cache"
	"github.com/goliatone/go-resource-query/internal/logging"
	"github.com/goliatone/go-resource-query/mutation"
	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
	"github.com/goliatone/go-resource-query/resourcecache"
)

// Config aggregates the settings of every component the container builds.
type Config struct {
	Logging    logging.Config
	Resource   resource.Config
	QueryCache querycache.Config

	// Registerer receives the client and cache metrics. Nil keeps them on
	// private registries. A registry can back only one container.
	Registerer prometheus.Registerer

	// InstallDefault makes the container cache the process wide
	// querycache.Default.
	InstallDefault bool

	// OnSessionExpired runs when a token refresh is rejected or a request
	// is forbidden.
	OnSessionExpired func()
}

// DefaultConfig returns defaults for every component. BaseURL is left empty
// and must be set.
func DefaultConfig() Config {
	return Config{
		Logging:    logging.Config{Level: "info"},
		Resource:   resource.DefaultConfig(),
		QueryCache: querycache.DefaultConfig(),
	}
}

// Container provides dependency injection for the data access layer.
// It owns one session, client, query cache and mutation executor, shared by
// every resource created through NewResource.
type Container struct {
	config        Config
	logger        zerolog.Logger
	keySerializer cache.KeySerializer
	session       *resource.TokenSession
	client        *resource.Client
	cache         *querycache.Cache
	executor      *mutation.Executor
}

// NewContainer validates config and wires the components.
func NewContainer(config Config) (*Container, error) {
	if err := config.QueryCache.Validate(); err != nil {
		return nil, fmt.Errorf("di: query cache: %w", err)
	}

	logger := logging.New(config.Logging)

	resourceMetrics := resource.NewMetrics(config.Registerer)
	session := resource.NewTokenSession(config.Resource,
		resource.WithSessionLogger(logging.Component(logger, "session")),
		resource.WithSessionMetrics(resourceMetrics),
		resource.WithOnExpired(config.OnSessionExpired),
	)

	client, err := resource.NewClient(config.Resource,
		resource.WithLogger(logging.Component(logger, "resource")),
		resource.WithMetrics(resourceMetrics),
		resource.WithSession(session),
	)
	if err != nil {
		return nil, fmt.Errorf("di: resource client: %w", err)
	}

	keySerializer := cache.NewDefaultKeySerializer()
	cacheOpts := []querycache.Option{
		querycache.WithLogger(logging.Component(logger, "querycache")),
		querycache.WithMetrics(querycache.NewMetrics(config.Registerer)),
		querycache.WithKeySerializer(keySerializer),
	}

	var qc *querycache.Cache
	if config.InstallDefault {
		qc, err = querycache.Init(config.QueryCache, cacheOpts...)
	} else {
		qc, err = querycache.New(config.QueryCache, cacheOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("di: query cache: %w", err)
	}

	executor := mutation.New(client, qc,
		mutation.WithLogger(logging.Component(logger, "mutation")),
	)

	return &Container{
		config:        config,
		logger:        logger,
		keySerializer: keySerializer,
		session:       session,
		client:        client,
		cache:         qc,
		executor:      executor,
	}, nil
}

// Config returns the configuration the container was built with.
func (c *Container) Config() Config { return c.config }

// Logger returns the root logger.
func (c *Container) Logger() zerolog.Logger { return c.logger }

// KeySerializer returns the serializer used for store keys.
func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }

// Session returns the token session. Call SetTokens after sign-in.
func (c *Container) Session() *resource.TokenSession { return c.session }

// Client returns the shared resource client.
func (c *Container) Client() *resource.Client { return c.client }

// Cache returns the query cache.
func (c *Container) Cache() *querycache.Cache { return c.cache }

// Executor returns the mutation executor.
func (c *Container) Executor() *mutation.Executor { return c.executor }

// Close stops pending fetches and drops the cache.
func (c *Container) Close() {
	if c.config.InstallDefault {
		querycache.Teardown()
		return
	}
	c.cache.Close()
}

// NewResource creates the cached resource for d on the container components.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewResource[Lead](container, resource.MustDescriptor[Lead]("leads"))
func NewResource[T any](container *Container, d resource.Descriptor[T]) (*resourcecache.Resource[T], error) {
	return resourcecache.New(d, container.client, container.cache, container.executor)
}
