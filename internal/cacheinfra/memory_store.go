package cacheinfra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// memoryEntry is what the sturdyc client holds. sturdyc only knows a
// client-wide TTL, so the per-write expiry travels with the value.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local key-value store backed by a sturdyc client.
// It honours per-write TTLs against an injectable clock, which keeps expiry
// deterministic in tests.
type MemoryStore struct {
	client *sturdyc.Client[memoryEntry]
	maxTTL time.Duration
	now    func() time.Time

	// counterMu serializes Increment so counters are exact within one process.
	counterMu sync.Mutex
}

// NewMemoryStore creates a new sturdyc backed store.
// It validates the configuration and initializes the client with the provided settings.
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[memoryEntry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &MemoryStore{
		client: client,
		maxTTL: cfg.MaxTTL,
		now:    cfg.clock(),
	}, nil
}

// Get returns a copy of the stored bytes, or nil when the key is missing or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := s.client.Get(key)
	if !ok {
		return nil, nil
	}

	if entry.expired(s.now()) {
		s.client.Delete(key)
		return nil, nil
	}

	return append([]byte(nil), entry.value...), nil
}

// Put stores value under key. A ttl <= 0 keeps the entry for MaxTTL.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.client.Set(key, s.entry(value, ttl))
	return nil
}

// Delete removes a single entry.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// Increment adds one to the decimal counter stored under key and returns the
// new value. The TTL is applied only when the counter is created.
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	current, ok := s.client.Get(key)
	if !ok || current.expired(s.now()) {
		s.client.Set(key, s.entry([]byte("1"), ttl))
		return 1, nil
	}

	n, err := strconv.ParseInt(string(current.value), 10, 64)
	if err != nil {
		return 0, err
	}
	n++

	current.value = []byte(strconv.FormatInt(n, 10))
	s.client.Set(key, current)
	return n, nil
}

// Len reports how many entries the underlying client holds, expired ones included.
func (s *MemoryStore) Len() int {
	return s.client.Size()
}

// Close is a no-op; sturdyc releases its resources with the client.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) entry(value []byte, ttl time.Duration) memoryEntry {
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	return memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
}
