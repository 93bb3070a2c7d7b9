// Package cache provides the cache-aside layer that sits in front of every
// upstream read.
//
// # Overview
//
// The package exports:
//
//   - CacheService: get, set and delete over a kvstore.Store, never failing
//   - GetOrSet: the generic read-through helper used by repository wrappers
//   - KeyBuilder: validated prefix:kind:identifier key construction
//   - KeySerializer: deterministic rendering of method calls for hashed keys
//
// Every value is written inside an Entry envelope, {"data": value}. A cached
// absence is therefore {"data": null} and is a hit, not a miss:
//
//	invoice, err := cache.GetOrSet(ctx, svc, key, func(ctx context.Context) (*Invoice, error) {
//		return upstream.GetInvoice(ctx, id) // nil, nil when absent
//	}, 10*time.Minute)
//
// # Error Handling
//
// Two failure sources are handled on separate paths. Store and codec
// failures are logged as a CacheError and degrade to a miss or a no-op.
// Errors returned by the fetch function reach the caller unchanged and are
// never cached.
//
// # Keys
//
// Identifiers must match [A-Za-z0-9_-]{1,128}. Anything else is rejected with
// CodeInvalidInput before a key is produced:
//
//	keys, _ := cache.NewKeyBuilder("billing")
//	key, err := keys.Key("invoice", id) // billing:invoice:<id>
//
// Free-form inputs such as filters go through Hashed, which digests them with
// xxhash into a fixed width hex identifier.
//
// # Function Criteria
//
// ReflectSerializer renders function values by pointer. Such keys are stable
// only inside one process; callers sharing a remote store across processes
// should pass named criteria instead of closures.
package cache
