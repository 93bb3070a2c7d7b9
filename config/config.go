// Package config holds the application configuration: which store backs the
// shared state, key prefix, and the cache, limiter and breaker settings.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-guard/breaker"
	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/invoice"
	"github.com/goliatone/go-repository-guard/kvstore"
	"github.com/goliatone/go-repository-guard/ratelimit"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = kvstore.DriverSQLite
	DriverPostgres = kvstore.DriverPostgres
)

// Config is the full application configuration.
type Config struct {
	Prefix    string          `yaml:"prefix" mapstructure:"prefix"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Invoice   InvoiceConfig   `yaml:"invoice" mapstructure:"invoice"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the key-value backend shared by every component.
type StoreConfig struct {
	Driver   string      `yaml:"driver" mapstructure:"driver"`
	DSN      string      `yaml:"dsn" mapstructure:"dsn"`
	Capacity int         `yaml:"capacity" mapstructure:"capacity"`
	Redis    RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig is used when Driver is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// CacheConfig mirrors cache.Config.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	Codec      string        `yaml:"codec" mapstructure:"codec"`
	Coalesce   bool          `yaml:"coalesce" mapstructure:"coalesce"`
}

// RateLimitConfig mirrors ratelimit.Config.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	Atomic      bool          `yaml:"atomic" mapstructure:"atomic"`
}

// BreakerConfig mirrors breaker.Config. Circuit is the key protecting the
// upstream.
type BreakerConfig struct {
	Circuit          string        `yaml:"circuit" mapstructure:"circuit"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTime     time.Duration `yaml:"recovery_time" mapstructure:"recovery_time"`
	HalfOpenRequests int           `yaml:"half_open_requests" mapstructure:"half_open_requests"`
}

// InvoiceConfig mirrors invoice.Config.
type InvoiceConfig struct {
	ListTTL time.Duration `yaml:"list_ttl" mapstructure:"list_ttl"`
	ItemTTL time.Duration `yaml:"item_ttl" mapstructure:"item_ttl"`
}

// LogConfig configures the slog handler built by NewLogger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	cacheCfg := cache.DefaultConfig()
	limitCfg := ratelimit.DefaultConfig()
	breakerCfg := breaker.DefaultConfig()
	invoiceCfg := invoice.DefaultConfig()

	return Config{
		Prefix: "guard",
		Store: StoreConfig{
			Driver:   DriverMemory,
			Capacity: kvstore.DefaultMemoryConfig().Capacity,
		},
		Cache: CacheConfig{
			DefaultTTL: cacheCfg.DefaultTTL,
			Codec:      cacheCfg.Codec,
			Coalesce:   cacheCfg.Coalesce,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: limitCfg.MaxRequests,
			Window:      limitCfg.Window,
			Atomic:      limitCfg.Atomic,
		},
		Breaker: BreakerConfig{
			Circuit:          "upstream",
			FailureThreshold: breakerCfg.FailureThreshold,
			RecoveryTime:     breakerCfg.RecoveryTime,
			HalfOpenRequests: breakerCfg.HalfOpenRequests,
		},
		Invoice: InvoiceConfig{
			ListTTL: invoiceCfg.ListTTL,
			ItemTTL: invoiceCfg.ItemTTL,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the whole configuration, including every component config.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Prefix, validation.Required, validation.By(validKeySegment)),
		validation.Field(&c.Store),
		validation.Field(&c.Breaker),
		validation.Field(&c.Log),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid configuration")
	}

	checks := []func() error{
		c.CacheConfig().Validate,
		c.RateLimitConfig(nil).Validate,
		c.BreakerConfig(nil).Validate,
		c.InvoiceConfig().Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the store selection.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required,
			validation.In(DriverMemory, DriverRedis, DriverSQLite, DriverPostgres)),
		validation.Field(&s.DSN, validation.When(s.Driver == DriverSQLite || s.Driver == DriverPostgres, validation.Required)),
		validation.Field(&s.Capacity, validation.When(s.Driver == DriverMemory, validation.Required, validation.Min(1))),
		validation.Field(&s.Redis, validation.When(s.Driver == DriverRedis, validation.By(func(any) error {
			return validation.Validate(s.Redis.Addr, validation.Required.Error("addr is required"))
		}))),
	)
}

// Validate checks the circuit key. Numeric fields are checked by breaker.Config.
func (b BreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Circuit, validation.Required, validation.By(validKeySegment)),
	)
}

// Validate checks the level and format names.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(func(any) error {
			_, err := parseLevel(l.Level)
			return err
		})),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func validKeySegment(value any) error {
	s, _ := value.(string)
	_, err := cache.NewKeyBuilder(s)
	return err
}

// KeyBuilder returns the key builder for Prefix.
func (c Config) KeyBuilder() (*cache.KeyBuilder, error) {
	return cache.NewKeyBuilder(c.Prefix)
}

// CacheConfig converts to the cache service configuration.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		DefaultTTL: c.Cache.DefaultTTL,
		Codec:      c.Cache.Codec,
		Coalesce:   c.Cache.Coalesce,
	}
}

// RateLimitConfig converts to the limiter configuration. A nil now uses time.Now.
func (c Config) RateLimitConfig(now func() time.Time) ratelimit.Config {
	return ratelimit.Config{
		MaxRequests: c.RateLimit.MaxRequests,
		Window:      c.RateLimit.Window,
		Atomic:      c.RateLimit.Atomic,
		Now:         now,
	}
}

// BreakerConfig converts to the circuit breaker configuration.
func (c Config) BreakerConfig(now func() time.Time) breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTime:     c.Breaker.RecoveryTime,
		HalfOpenRequests: c.Breaker.HalfOpenRequests,
		Now:              now,
	}
}

// InvoiceConfig converts to the cached invoice repository configuration.
func (c Config) InvoiceConfig() invoice.Config {
	return invoice.Config{ListTTL: c.Invoice.ListTTL, ItemTTL: c.Invoice.ItemTTL}
}

// MemoryConfig converts to the memory backend configuration.
func (c Config) MemoryConfig(now func() time.Time) kvstore.MemoryConfig {
	cfg := kvstore.DefaultMemoryConfig()
	cfg.Capacity = c.Store.Capacity
	cfg.Now = now
	return cfg
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Store.Redis.Password != "" {
		c.Store.Redis.Password = "redacted"
	}
	return c
}

// YAML renders the configuration with two space indentation.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode configuration")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode configuration")
	}
	return buf.Bytes(), nil
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid log level")
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}
