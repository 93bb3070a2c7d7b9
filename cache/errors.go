package cache

import (
	"github.com/jmgilman/go/errors"
)

// ErrInvalidResultType is returned by the generic helpers when a cached or
// fetched value cannot be converted to the requested type.
var ErrInvalidResultType = errors.New(errors.CodeInternal, "cache: result has unexpected type")

// CacheError describes a store or codec failure. The Service never returns it;
// it is logged and the operation degrades to a miss or a no-op.
type CacheError struct {
	Operation string
	Key       string
	Cause     error
}

var _ errors.PlatformError = (*CacheError)(nil)

// Error implements the error interface.
func (e *CacheError) Error() string {
	return "cache " + e.Operation + " " + e.Key + ": " + e.Cause.Error()
}

// Code reports the failure as a storage error.
func (e *CacheError) Code() errors.ErrorCode { return errors.CodeDatabase }

// Classification is retryable; store failures are usually transient.
func (e *CacheError) Classification() errors.ErrorClassification {
	return errors.ClassificationRetryable
}

// Message returns the human readable message without the cause.
func (e *CacheError) Message() string { return "cache " + e.Operation + " failed" }

// Context exposes the operation and key.
func (e *CacheError) Context() map[string]interface{} {
	return map[string]interface{}{"operation": e.Operation, "key": e.Key}
}

// Unwrap returns the store or codec error.
func (e *CacheError) Unwrap() error { return e.Cause }
