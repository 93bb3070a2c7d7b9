// Package repositorycache decorates go-repository-bun repositories with the
// guarded read path: cached reads behind a rate limiter and circuit breaker.
//
// # Overview
//
// CachedRepository wraps a repository.Repository[T] and satisfies the same
// interface. Non transactional reads (Get, GetByID, GetByIdentifier, List,
// Count) are served through cache.GetOrSet; on a miss the base call runs
// inside protect.Execute, so the rate limiter is consulted first and the
// circuit breaker second. Transactional reads and Raw queries are never
// cached but are still protected. Writes pass straight through and drop the
// affected keys on success.
//
// # Keys
//
// Keys follow prefix:kind:hash. The kind defaults to the plural snake case
// of the record type (TestUser becomes test_users) and can be overridden
// with WithKind. The hash is derived from the method name and the serialized
// arguments, so different criteria produce different entries.
//
// # Absence
//
// A lookup that fails with a not-found error (sql.ErrNoRows by default, see
// WithNotFound) is cached like any other result and is not counted as a
// circuit failure. The first caller receives the base error; callers served
// from cache receive ErrRecordNotFound, which still matches sql.ErrNoRows.
//
// # Invalidation
//
// Keys are tracked in a process local registry. Entries are forgotten once
// their TTL has passed (see WithClock):
//
//   - Create drops List and Count entries.
//   - Update, Upsert, Delete and GetOrCreate drop GetByID lookups for the
//     record's ID, every GetByIdentifier lookup and all criteria based
//     queries. Identifier lookups go wholesale since the record may have been
//     cached under an identifier it no longer has.
//   - DeleteMany and DeleteWhere drop everything.
//
// Reads made with a context from WithCacheTags register under those tags and
// can be dropped with InvalidateTags. Other processes sharing the store only
// observe invalidation when entries expire.
//
// # Usage
//
//	executor := protect.New(limiter, circuit, "users")
//	users, err := repositorycache.New[User](base, cacheService, executor, keys,
//		repositorycache.WithTTL(10*time.Minute))
//	if err != nil {
//		return err
//	}
//	user, err := users.GetByID(ctx, "user-123")
package repositorycache
