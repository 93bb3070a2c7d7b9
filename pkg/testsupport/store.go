package testsupport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by Store when failure injection is on.
var ErrStoreUnavailable = errors.New("testsupport: store unavailable")

type storeEntry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a map backed key-value store with TTL evaluated against an
// injectable clock, per-operation counters and failure injection. It
// satisfies kvstore.Store without importing it.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]storeEntry

	failGets    bool
	failPuts    bool
	failDeletes bool

	gets    int
	puts    int
	deletes int
	lastTTL map[string]time.Duration
}

// NewStore creates an empty store. A nil now uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		entries: make(map[string]storeEntry),
		lastTTL: make(map[string]time.Duration),
	}
}

// FailAll makes every subsequent operation return ErrStoreUnavailable.
func (s *Store) FailAll(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets, s.failPuts, s.failDeletes = fail, fail, fail
}

// FailPuts makes only writes fail.
func (s *Store) FailPuts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = fail
}

// Get implements the store contract.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	if s.failGets {
		return nil, ErrStoreUnavailable
	}

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

// Put implements the store contract.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if s.failPuts {
		return ErrStoreUnavailable
	}

	entry := storeEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	s.lastTTL[key] = ttl
	return nil
}

// Delete implements the store contract.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes++
	if s.failDeletes {
		return ErrStoreUnavailable
	}
	delete(s.entries, key)
	return nil
}

// Raw returns the stored bytes for key ignoring expiry.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry.value, ok
}

// TTL returns the ttl used by the last Put for key.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTTL[key]
}

// Puts returns the number of Put calls, failed ones included.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Gets returns the number of Get calls, failed ones included.
func (s *Store) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Keys returns every stored key, expired ones included.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
