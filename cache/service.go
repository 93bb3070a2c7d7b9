package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-guard/internal/typed"
)

// FetchFn is the function signature GetOrSet expects when loading from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Entry is the envelope persisted for every cached value. A cached absence
// is stored as {"data": null} and is still a hit.
type Entry[T any] struct {
	Data T `json:"data" msgpack:"data"`
}

// CacheService exposes the cache-aside primitives. Implementations never
// return store failures: Get degrades to a miss, Set and Delete to no-ops.
type CacheService interface {
	// Get decodes the entry stored under key into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) bool
	// Set encodes entry and writes it under key. A ttl <= 0 uses the service default.
	Set(ctx context.Context, key string, entry any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Coalescer is implemented by services that collapse concurrent misses for
// the same key into a single fetch. fn runs under a context that is not
// cancelled with any single caller; each caller stops waiting when its own
// ctx is done.
type Coalescer interface {
	Coalesce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error)
}

// Get returns the value cached under key. ok is false on a miss, on an
// undecodable entry and on any store failure.
func Get[T any](ctx context.Context, service CacheService, key string) (value T, ok bool) {
	var entry Entry[T]
	if !service.Get(ctx, key, &entry) {
		return value, false
	}
	return entry.Data, true
}

// Set caches value under key. Failures are absorbed by the service.
func Set[T any](ctx context.Context, service CacheService, key string, value T, ttl time.Duration) {
	service.Set(ctx, key, Entry[T]{Data: value}, ttl)
}

// GetOrSet returns the cached value for key or, on a miss, calls fetch, caches
// its result (zero and nil results included) and returns it. Errors returned
// by fetch are passed through untouched and nothing is cached for them.
func GetOrSet[T any](ctx context.Context, service CacheService, key string, fetch FetchFn[T], ttl time.Duration) (T, error) {
	if value, ok := Get[T](ctx, service, key); ok {
		return value, nil
	}

	load := func(ctx context.Context) (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		Set(ctx, service, key, value, ttl)
		return value, nil
	}

	var (
		result any
		err    error
	)
	if coalescer, ok := service.(Coalescer); ok {
		result, err = coalescer.Coalesce(ctx, key, load)
	} else {
		result, err = load(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}

	value, ok := typed.Cast[T](result)
	if !ok {
		var zero T
		return zero, ErrInvalidResultType
	}
	return value, nil
}
