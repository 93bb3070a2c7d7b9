// Package kvstore defines the key-value contract every resilience component
// coordinates through, plus constructors for the bundled backends.
//
// # Overview
//
// Components in this module keep no durable in-process state. Cache entries,
// rate-limit windows and circuit breaker state all live in a Store:
//
//	type Store interface {
//		Get(ctx context.Context, key string) ([]byte, error)
//		Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
//		Delete(ctx context.Context, key string) error
//	}
//
// A missing key is reported as (nil, nil). A ttl <= 0 means "no expiry" (the
// memory backend caps it at MaxTTL). Entries disappear only through expiry or
// explicit deletion; there is no background collector.
//
// # Backends
//
//   - NewMemoryStore: process-local, backed by sturdyc. Useful for tests and
//     single-instance deployments.
//   - NewRedisStore: shared across processes, backed by go-redis.
//   - OpenSQLStore: durable, backed by bun over sqlite3 or postgres.
//   - Noop: always misses and discards writes. Used when no store is configured.
//
// Stores that can increment a counter atomically also implement Counter. The
// rate limiter uses it to turn its approximate per-window bound into an exact one.
//
// The SQL backends keep expired rows until they are read again and implement
// Purger for bulk cleanup (guardctl purge).
package kvstore
