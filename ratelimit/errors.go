package ratelimit

import (
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
)

// RateLimitExceededError is returned when a call is rejected before the
// protected operation runs.
type RateLimitExceededError struct {
	Key        string
	RetryAfter time.Duration
	ResetAt    time.Time
}

var _ errors.PlatformError = (*RateLimitExceededError)(nil)

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %ds", e.Key, int64(e.RetryAfter/time.Second))
}

// Code implements errors.PlatformError.
func (e *RateLimitExceededError) Code() errors.ErrorCode { return errors.CodeRateLimit }

// Classification implements errors.PlatformError.
func (e *RateLimitExceededError) Classification() errors.ErrorClassification {
	return errors.ClassificationRetryable
}

// Message implements errors.PlatformError.
func (e *RateLimitExceededError) Message() string { return "rate limit exceeded" }

// Context exposes the key, retry delay in seconds and reset time in epoch milliseconds.
func (e *RateLimitExceededError) Context() map[string]interface{} {
	return map[string]interface{}{
		"key":        e.Key,
		"retryAfter": int64(e.RetryAfter / time.Second),
		"resetAt":    e.ResetAt.UnixMilli(),
	}
}

// Unwrap implements errors.PlatformError. There is no underlying cause.
func (e *RateLimitExceededError) Unwrap() error { return nil }
