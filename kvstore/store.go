package kvstore

import (
	"context"
	"time"
)

// Store is the minimal key-value contract with TTL-on-write semantics.
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Counter is implemented by stores with an atomic increment. The counter is
// stored as a decimal string so Get returns it as well. The ttl applies to the
// counter key and may be refreshed on every increment.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Purger is implemented by stores that keep expired entries until they are
// read again. Purge deletes them in bulk and reports how many went.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Closer is implemented by stores holding connections or files.
type Closer interface {
	Close() error
}

// Noop is a Store that never holds anything.
type Noop struct{}

var _ Store = Noop{}

// Get always reports a miss.
func (Noop) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

// Put discards the value.
func (Noop) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// Delete does nothing.
func (Noop) Delete(ctx context.Context, key string) error { return nil }

// Close releases the resources held by store when it implements Closer.
func Close(store Store) error {
	if c, ok := store.(Closer); ok {
		return c.Close()
	}
	return nil
}
