package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-repository-guard/kvstore"
)

// Service is the default CacheService over a kvstore.Store.
type Service struct {
	store      kvstore.Store
	codec      Codec
	defaultTTL time.Duration
	logger     *slog.Logger
	group      *singleflight.Group
}

var (
	_ CacheService = (*Service)(nil)
	_ Coalescer    = (*Service)(nil)
)

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used to report absorbed store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a Service writing through store.
func NewService(store kvstore.Store, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = kvstore.Noop{}
	}

	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:      store,
		codec:      codec,
		defaultTTL: cfg.DefaultTTL,
		logger:     slog.New(slog.DiscardHandler),
	}
	if cfg.Coalesce {
		s.group = &singleflight.Group{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get reads and decodes the entry under key. Store and decode failures are
// logged and reported as a miss.
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		s.absorb(ctx, &CacheError{Operation: "get", Key: key, Cause: err})
		return false
	}
	if raw == nil {
		return false
	}

	if err := s.codec.Unmarshal(raw, dest); err != nil {
		s.absorb(ctx, &CacheError{Operation: "decode", Key: key, Cause: err})
		return false
	}
	return true
}

// Set encodes entry and writes it. Failures are logged and dropped.
func (s *Service) Set(ctx context.Context, key string, entry any, ttl time.Duration) {
	raw, err := s.codec.Marshal(entry)
	if err != nil {
		s.absorb(ctx, &CacheError{Operation: "encode", Key: key, Cause: err})
		return
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.store.Put(ctx, key, raw, ttl); err != nil {
		s.absorb(ctx, &CacheError{Operation: "set", Key: key, Cause: err})
	}
}

// Delete removes key. Failures are logged and dropped.
func (s *Service) Delete(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.absorb(ctx, &CacheError{Operation: "delete", Key: key, Cause: err})
	}
}

// Coalesce runs fn once per key for concurrent callers when coalescing is
// enabled. Sharing is limited to this process. The shared fn keeps the first
// caller's context values but not its cancellation.
func (s *Service) Coalesce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	if s.group == nil {
		return fn(ctx)
	}
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Codec returns the codec entries are written with.
func (s *Service) Codec() Codec {
	return s.codec
}

func (s *Service) absorb(ctx context.Context, err *CacheError) {
	s.logger.WarnContext(ctx, "cache operation failed",
		slog.String("operation", err.Operation),
		slog.String("key", err.Key),
		slog.Any("error", err.Cause),
	)
}

// noopService never stores anything.
type noopService struct{}

// Noop returns a CacheService that always misses and discards writes.
// GetOrSet over it calls fetch every time.
func Noop() CacheService {
	return noopService{}
}

func (noopService) Get(ctx context.Context, key string, dest any) bool                { return false }
func (noopService) Set(ctx context.Context, key string, entry any, ttl time.Duration) {}
func (noopService) Delete(ctx context.Context, key string)                            {}
