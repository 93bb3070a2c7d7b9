package ratelimit

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
)

// Config describes one fixed-window limit.
type Config struct {
	// MaxRequests admitted per window.
	MaxRequests int
	// Window length. Must be at least one millisecond.
	Window time.Duration
	// Atomic switches to store-side increments when the store supports them.
	Atomic bool
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns a limit of 60 requests per minute.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 60,
		Window:      time.Minute,
	}
}

// Validate checks the limit parameters.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxRequests, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Millisecond)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid rate limit configuration")
	}
	return nil
}

func (c Config) clock() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}
