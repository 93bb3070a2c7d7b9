package config

import (
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: GUARD_RATE_LIMIT_MAX_REQUESTS
// overrides rate_limit.max_requests.
const EnvPrefix = "GUARD"

// Load reads path (YAML) over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.WithContext(
				errors.Wrap(err, errors.CodeInvalidConfig, "read configuration file"), "path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	defaults := map[string]any{
		"prefix":                     cfg.Prefix,
		"store.driver":               cfg.Store.Driver,
		"store.dsn":                  cfg.Store.DSN,
		"store.capacity":             cfg.Store.Capacity,
		"store.redis.addr":           cfg.Store.Redis.Addr,
		"store.redis.password":       cfg.Store.Redis.Password,
		"store.redis.db":             cfg.Store.Redis.DB,
		"cache.default_ttl":          cfg.Cache.DefaultTTL,
		"cache.codec":                cfg.Cache.Codec,
		"cache.coalesce":             cfg.Cache.Coalesce,
		"rate_limit.max_requests":    cfg.RateLimit.MaxRequests,
		"rate_limit.window":          cfg.RateLimit.Window,
		"rate_limit.atomic":          cfg.RateLimit.Atomic,
		"breaker.circuit":            cfg.Breaker.Circuit,
		"breaker.failure_threshold":  cfg.Breaker.FailureThreshold,
		"breaker.recovery_time":      cfg.Breaker.RecoveryTime,
		"breaker.half_open_requests": cfg.Breaker.HalfOpenRequests,
		"invoice.list_ttl":           cfg.Invoice.ListTTL,
		"invoice.item_ttl":           cfg.Invoice.ItemTTL,
		"log.level":                  cfg.Log.Level,
		"log.format":                 cfg.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
