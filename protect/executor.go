// Package protect composes a rate limiter and a circuit breaker into one
// guarded call.
package protect

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/goliatone/go-repository-guard/breaker"
	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/internal/typed"
	"github.com/goliatone/go-repository-guard/ratelimit"
)

// Limiter is the part of ratelimit.Limiter the executor needs.
type Limiter interface {
	CheckAndRecord(ctx context.Context, key string) (ratelimit.Result, error)
}

// Breaker is the part of breaker.CircuitBreaker the executor needs.
type Breaker interface {
	Execute(ctx context.Context, op breaker.Operation, fallback breaker.Operation) (any, error)
}

var (
	_ Limiter = (*ratelimit.Limiter)(nil)
	_ Limiter = ratelimit.Noop{}
	_ Breaker = (*breaker.CircuitBreaker)(nil)
	_ Breaker = breaker.Noop{}
)

// Executor runs operations behind a fixed rate limit key and a breaker.
type Executor struct {
	limiter Limiter
	breaker Breaker
	key     string
	logger  *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Executor. Nil collaborators are replaced by no-op ones.
func New(limiter Limiter, b Breaker, key string, opts ...Option) *Executor {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if b == nil {
		b = breaker.Noop{}
	}
	e := &Executor{
		limiter: limiter,
		breaker: b,
		key:     key,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the rate limit key every call is counted against.
func (e *Executor) Key() string {
	return e.key
}

// Execute checks the rate limit, then runs op through the breaker. A denied
// call fails with *ratelimit.RateLimitExceededError and never reaches the
// breaker, so it is not counted as a circuit failure.
func (e *Executor) Execute(ctx context.Context, op breaker.Operation, fallback breaker.Operation) (any, error) {
	callID := uuid.NewString()
	logger := e.logger.With(slog.String("call_id", callID), slog.String("key", e.key))

	res, err := e.limiter.CheckAndRecord(ctx, e.key)
	if err != nil {
		logger.ErrorContext(ctx, "rate limit check failed", slog.Any("error", err))
		return nil, err
	}
	if !res.Allowed {
		logger.WarnContext(ctx, "call rejected by rate limit", slog.Duration("retry_after", res.RetryAfter))
		return nil, res.Exceeded(e.key)
	}

	logger.DebugContext(ctx, "executing protected call", slog.Int("remaining", res.Remaining))
	return e.breaker.Execute(ctx, op, fallback)
}

// Execute is the typed form of Executor.Execute. A nil fallback is allowed.
func Execute[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	var fb breaker.Operation
	if fallback != nil {
		fb = func(ctx context.Context) (any, error) { return fallback(ctx) }
	}

	result, err := e.Execute(ctx, func(ctx context.Context) (any, error) { return op(ctx) }, fb)
	if err != nil {
		var zero T
		return zero, err
	}
	value, ok := typed.Cast[T](result)
	if !ok {
		var zero T
		return zero, cache.ErrInvalidResultType
	}
	return value, nil
}
