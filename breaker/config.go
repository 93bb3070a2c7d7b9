package breaker

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTime is how long the circuit stays OPEN before admitting a probe.
	RecoveryTime time.Duration
	// HalfOpenRequests caps the probes admitted per recovery period. Zero or
	// less admits every call while HALF_OPEN.
	HalfOpenRequests int
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns five failures, one minute of recovery and a single probe.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTime:     time.Minute,
		HalfOpenRequests: 1,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.RecoveryTime, validation.Required, validation.Min(time.Millisecond)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid circuit breaker configuration")
	}
	return nil
}

func (c Config) clock() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}
