package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
)

// Config exposes the cache service options.
type Config struct {
	// DefaultTTL applies to writes that do not carry their own TTL.
	DefaultTTL time.Duration
	// Codec selects the entry encoding: "json" (default) or "msgpack".
	Codec string
	// Coalesce collapses concurrent misses for one key inside this process.
	Coalesce bool
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Codec:      CodecJSON,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Codec, validation.In(CodecJSON, CodecMsgpack)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid cache configuration")
	}
	return nil
}
