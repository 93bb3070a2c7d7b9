package breaker

import (
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitOpenError is returned when a call is rejected by an open circuit
// and no fallback was supplied.
type CircuitOpenError struct {
	CircuitKey    string
	NextRetryTime time.Time
	FailureCount  int
}

var _ errors.PlatformError = (*CircuitOpenError)(nil)

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s is open after %d failures, next retry at %s",
		e.CircuitKey, e.FailureCount, e.NextRetryTime.UTC().Format(time.RFC3339))
}

// Is matches gobreaker.ErrOpenState so callers already handling gobreaker
// rejections treat both the same way.
func (e *CircuitOpenError) Is(target error) bool {
	return target == gobreaker.ErrOpenState
}

// Code implements errors.PlatformError.
func (e *CircuitOpenError) Code() errors.ErrorCode { return errors.CodeUnavailable }

// Classification implements errors.PlatformError.
func (e *CircuitOpenError) Classification() errors.ErrorClassification {
	return errors.ClassificationRetryable
}

// Message implements errors.PlatformError.
func (e *CircuitOpenError) Message() string { return "circuit open" }

// Context implements errors.PlatformError. nextRetryTime is in epoch milliseconds.
func (e *CircuitOpenError) Context() map[string]interface{} {
	return map[string]interface{}{
		"circuitKey":    e.CircuitKey,
		"nextRetryTime": e.NextRetryTime.UnixMilli(),
		"failureCount":  e.FailureCount,
	}
}

// Unwrap implements errors.PlatformError.
func (e *CircuitOpenError) Unwrap() error { return nil }
