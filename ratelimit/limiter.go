package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/kvstore"
)

// KeyKind is the key segment all limiter state lives under.
const KeyKind = "ratelimit"

// expiryGrace is added to the window when persisting counters.
const expiryGrace = time.Second

// State is the persisted counter for one key and window.
type State struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set only when Allowed is false, rounded up to whole seconds.
	RetryAfter time.Duration
}

// Exceeded converts a denied result into the error surfaced to callers.
func (r Result) Exceeded(key string) *RateLimitExceededError {
	return &RateLimitExceededError{Key: key, RetryAfter: r.RetryAfter, ResetAt: r.ResetAt}
}

// Limiter is a fixed-window rate limiter.
type Limiter struct {
	store   kvstore.Store
	counter kvstore.Counter
	keys    *cache.KeyBuilder
	max     int
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New builds a Limiter storing its state through store under keys.
func New(store kvstore.Store, keys *cache.KeyBuilder, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "rate limiter requires a key builder")
	}
	if store == nil {
		store = kvstore.Noop{}
	}

	l := &Limiter{
		store:  store,
		keys:   keys,
		max:    cfg.MaxRequests,
		window: cfg.Window,
		now:    cfg.clock(),
		logger: slog.New(slog.DiscardHandler),
	}
	if counter, ok := store.(kvstore.Counter); ok && cfg.Atomic {
		l.counter = counter
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Atomic reports whether counts are incremented store-side.
func (l *Limiter) Atomic() bool {
	return l.counter != nil
}

// CheckLimit reports the current standing of key without writing.
func (l *Limiter) CheckLimit(ctx context.Context, key string) (Result, error) {
	now, windowStart := l.windowAt()

	var count int
	var err error
	if l.counter != nil {
		count, err = l.loadCounter(ctx, key, windowStart)
	} else {
		var state State
		state, err = l.load(ctx, key, windowStart)
		count = state.Count
	}
	if err != nil {
		return Result{}, err
	}
	return l.result(now, windowStart, count, count < l.max), nil
}

// RecordRequest counts one request against the current window regardless of
// the limit.
func (l *Limiter) RecordRequest(ctx context.Context, key string) error {
	_, windowStart := l.windowAt()

	if l.counter != nil {
		_, err := l.increment(ctx, key, windowStart)
		return err
	}

	state, err := l.load(ctx, key, windowStart)
	if err != nil {
		return err
	}
	state.Count++
	return l.save(ctx, key, state)
}

// CheckAndRecord admits and counts a request when the window has room. A
// denied request is not written in the default mode. Remaining reflects the
// count after this request.
func (l *Limiter) CheckAndRecord(ctx context.Context, key string) (Result, error) {
	now, windowStart := l.windowAt()

	if l.counter != nil {
		count, err := l.increment(ctx, key, windowStart)
		if err != nil {
			return Result{}, err
		}
		res := l.result(now, windowStart, count, count <= l.max)
		l.logDecision(ctx, key, res)
		return res, nil
	}

	state, err := l.load(ctx, key, windowStart)
	if err != nil {
		return Result{}, err
	}
	if state.Count >= l.max {
		res := l.result(now, windowStart, state.Count, false)
		l.logDecision(ctx, key, res)
		return res, nil
	}

	state.Count++
	if err := l.save(ctx, key, state); err != nil {
		return Result{}, err
	}
	return l.result(now, windowStart, state.Count, true), nil
}

func (l *Limiter) windowAt() (time.Time, int64) {
	now := l.now()
	size := l.window.Milliseconds()
	return now, (now.UnixMilli() / size) * size
}

func (l *Limiter) result(now time.Time, windowStart int64, count int, allowed bool) Result {
	resetAt := time.UnixMilli(windowStart + l.window.Milliseconds())
	res := Result{
		Allowed:   allowed,
		Remaining: max(0, l.max-count),
		ResetAt:   resetAt,
	}
	if !allowed {
		seconds := math.Ceil(float64(resetAt.Sub(now)) / float64(time.Second))
		res.RetryAfter = time.Duration(max(seconds, 1)) * time.Second
	}
	return res
}

func (l *Limiter) load(ctx context.Context, key string, windowStart int64) (State, error) {
	storeKey, err := l.keys.Key(KeyKind, key)
	if err != nil {
		return State{}, err
	}

	raw, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return State{}, errors.Wrapf(err, errors.CodeUnavailable, "read rate limit state for %s", key)
	}

	fresh := State{WindowStart: windowStart}
	if raw == nil {
		return fresh, nil
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		l.logger.WarnContext(ctx, "discarding unreadable rate limit state",
			slog.String("key", key), slog.Any("error", err))
		return fresh, nil
	}
	if state.WindowStart != windowStart {
		return fresh, nil
	}
	return state, nil
}

func (l *Limiter) save(ctx context.Context, key string, state State) error {
	storeKey, err := l.keys.Key(KeyKind, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode rate limit state")
	}
	if err := l.store.Put(ctx, storeKey, raw, l.window+expiryGrace); err != nil {
		return errors.Wrapf(err, errors.CodeUnavailable, "write rate limit state for %s", key)
	}
	return nil
}

func (l *Limiter) counterKey(key string, windowStart int64) (string, error) {
	return l.keys.Key(KeyKind, key+"-"+strconv.FormatInt(windowStart, 10))
}

func (l *Limiter) increment(ctx context.Context, key string, windowStart int64) (int, error) {
	storeKey, err := l.counterKey(key, windowStart)
	if err != nil {
		return 0, err
	}
	n, err := l.counter.Increment(ctx, storeKey, l.window+expiryGrace)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeUnavailable, "increment rate limit counter for %s", key)
	}
	return int(n), nil
}

func (l *Limiter) loadCounter(ctx context.Context, key string, windowStart int64) (int, error) {
	storeKey, err := l.counterKey(key, windowStart)
	if err != nil {
		return 0, err
	}
	raw, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeUnavailable, "read rate limit counter for %s", key)
	}
	if raw == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeInternal, "parse rate limit counter for %s", key)
	}
	return n, nil
}

func (l *Limiter) logDecision(ctx context.Context, key string, res Result) {
	if res.Allowed {
		return
	}
	l.logger.DebugContext(ctx, "rate limit exceeded",
		slog.String("key", key),
		slog.Duration("retry_after", res.RetryAfter),
		slog.Time("reset_at", res.ResetAt),
	)
}

// Noop admits every request and stores nothing.
type Noop struct{}

func (Noop) CheckLimit(ctx context.Context, key string) (Result, error) {
	return Result{Allowed: true, Remaining: math.MaxInt}, nil
}

func (Noop) RecordRequest(ctx context.Context, key string) error { return nil }

func (Noop) CheckAndRecord(ctx context.Context, key string) (Result, error) {
	return Result{Allowed: true, Remaining: math.MaxInt}, nil
}
