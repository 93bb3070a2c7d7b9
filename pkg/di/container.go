// Package di wires the guard components from an application configuration.
package di

import (
	"context"
	"log/slog"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/jmgilman/go/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-repository-guard/breaker"
	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/config"
	"github.com/goliatone/go-repository-guard/invoice"
	"github.com/goliatone/go-repository-guard/kvstore"
	"github.com/goliatone/go-repository-guard/protect"
	"github.com/goliatone/go-repository-guard/ratelimit"
	"github.com/goliatone/go-repository-guard/repositorycache"
)

// Container owns one store and the components sharing it. Breakers are
// created per circuit key on first use.
type Container struct {
	cfg       config.Config
	now       func() time.Time
	logger    *slog.Logger
	store     kvstore.Store
	ownsStore bool
	keys      *cache.KeyBuilder
	cache     *cache.Service
	limiter   *ratelimit.Limiter
	breakers  *xsync.MapOf[string, *breaker.CircuitBreaker]
}

// Option customizes a Container.
type Option func(*Container)

// WithClock sets the clock shared by the store, limiter and breakers.
func WithClock(now func() time.Time) Option {
	return func(c *Container) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStore uses store instead of opening the configured backend. The caller
// keeps ownership: Close does not close it.
func WithStore(store kvstore.Store) Option {
	return func(c *Container) {
		c.store = store
	}
}

// NewContainer validates cfg, opens the store and builds the shared components.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
		breakers: xsync.NewMapOf[string, *breaker.CircuitBreaker](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		store, err := openStore(ctx, cfg, c.now)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.ownsStore = true
	}

	if err := c.build(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDefaults builds a container over an in-memory store.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.DefaultConfig(), opts...)
}

func (c *Container) build() error {
	keys, err := c.cfg.KeyBuilder()
	if err != nil {
		return err
	}
	c.keys = keys

	c.cache, err = cache.NewService(c.store, c.cfg.CacheConfig(), cache.WithLogger(c.logger))
	if err != nil {
		return err
	}

	c.limiter, err = ratelimit.New(c.store, keys, c.cfg.RateLimitConfig(c.now), ratelimit.WithLogger(c.logger))
	return err
}

func openStore(ctx context.Context, cfg config.Config, now func() time.Time) (kvstore.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return kvstore.NewMemoryStore(cfg.MemoryConfig(now))
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		return kvstore.NewRedisStore(client)
	case config.DriverSQLite, config.DriverPostgres:
		return kvstore.OpenSQLStore(ctx, cfg.Store.Driver, cfg.Store.DSN, now)
	default:
		return nil, errors.WithContext(
			errors.New(errors.CodeInvalidConfig, "unknown store driver"), "driver", cfg.Store.Driver)
	}
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.cfg
}

// Store returns the shared key-value store.
func (c *Container) Store() kvstore.Store {
	return c.store
}

// Keys returns the key builder for the configured prefix.
func (c *Container) Keys() *cache.KeyBuilder {
	return c.keys
}

// CacheService returns the shared cache service.
func (c *Container) CacheService() *cache.Service {
	return c.cache
}

// Limiter returns the shared rate limiter.
func (c *Container) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Breaker returns the circuit breaker for circuitKey, creating it on first use.
func (c *Container) Breaker(circuitKey string) (*breaker.CircuitBreaker, error) {
	if b, ok := c.breakers.Load(circuitKey); ok {
		return b, nil
	}
	b, err := breaker.New(c.store, c.keys, circuitKey, c.cfg.BreakerConfig(c.now), breaker.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	actual, _ := c.breakers.LoadOrStore(circuitKey, b)
	return actual, nil
}

// Executor returns an executor limiting and breaking on circuitKey. An empty
// key uses the configured circuit.
func (c *Container) Executor(circuitKey string) (*protect.Executor, error) {
	if circuitKey == "" {
		circuitKey = c.cfg.Breaker.Circuit
	}
	b, err := c.Breaker(circuitKey)
	if err != nil {
		return nil, err
	}
	return protect.New(c.limiter, b, circuitKey, protect.WithLogger(c.logger)), nil
}

// Close closes the store when the container opened it.
func (c *Container) Close() error {
	if !c.ownsStore || c.store == nil {
		return nil
	}
	return kvstore.Close(c.store)
}

// NewCachedRepository wraps base with the container's cache and the executor
// for the configured circuit.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[User](container, baseUserRepository)
func NewCachedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	executor, err := c.Executor("")
	if err != nil {
		return nil, err
	}
	opts = append([]repositorycache.Option{
		repositorycache.WithLogger(c.logger),
		repositorycache.WithTTL(c.cfg.Cache.DefaultTTL),
		repositorycache.WithClock(c.now),
	}, opts...)
	return repositorycache.New(base, c.cache, executor, c.keys, opts...)
}

// NewInvoiceRepository wraps upstream with the configured invoice TTLs.
func NewInvoiceRepository(c *Container, upstream invoice.Repository) (*invoice.CachedRepository, error) {
	executor, err := c.Executor("")
	if err != nil {
		return nil, err
	}
	return invoice.NewCachedRepository(upstream, c.cache, executor, c.keys, c.cfg.InvoiceConfig(),
		invoice.WithLogger(c.logger))
}
