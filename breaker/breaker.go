package breaker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/internal/typed"
	"github.com/goliatone/go-repository-guard/kvstore"
)

// KeyKind is the key segment circuit state lives under.
const KeyKind = "circuit"

// State is a circuit state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Snapshot is the effective view of a circuit at a point in time.
type Snapshot struct {
	State           State
	FailureCount    int
	LastFailureTime *time.Time
	// NextRetryTime is set only while the stored state is OPEN.
	NextRetryTime *time.Time
}

// Operation is the call guarded by the breaker. Fallbacks share the signature.
type Operation func(ctx context.Context) (any, error)

type persistedState struct {
	FailureCount     int    `json:"failureCount"`
	LastFailureTime  *int64 `json:"lastFailureTime"`
	State            State  `json:"state"`
	HalfOpenAttempts int    `json:"halfOpenAttempts"`
}

func (p persistedState) lastFailure() (time.Time, bool) {
	if p.LastFailureTime == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*p.LastFailureTime), true
}

// CircuitBreaker guards a single circuit key.
type CircuitBreaker struct {
	store    kvstore.Store
	key      string
	storeKey string
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the breaker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *CircuitBreaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New builds a breaker for circuitKey persisting through store.
func New(store kvstore.Store, keys *cache.KeyBuilder, circuitKey string, cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "circuit breaker requires a key builder")
	}
	storeKey, err := keys.Key(KeyKind, circuitKey)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = kvstore.Noop{}
	}

	b := &CircuitBreaker{
		store:    store,
		key:      circuitKey,
		storeKey: storeKey,
		cfg:      cfg,
		now:      cfg.clock(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Key returns the circuit key.
func (b *CircuitBreaker) Key() string {
	return b.key
}

// State returns the effective circuit state without writing.
func (b *CircuitBreaker) State(ctx context.Context) (Snapshot, error) {
	stored, err := b.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		State:        b.effective(stored, b.now()),
		FailureCount: stored.FailureCount,
	}
	if last, ok := stored.lastFailure(); ok {
		snap.LastFailureTime = &last
		if stored.State == StateOpen {
			next := last.Add(b.cfg.RecoveryTime)
			snap.NextRetryTime = &next
		}
	}
	return snap, nil
}

// RecordSuccess closes a HALF_OPEN circuit and clears the failure count of a
// CLOSED one. It does nothing while the circuit is OPEN.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	stored, err := b.load(ctx)
	if err != nil {
		return err
	}

	switch b.effective(stored, b.now()) {
	case StateHalfOpen:
		b.logger.InfoContext(ctx, "circuit closed", slog.String("circuit", b.key))
		return b.save(ctx, persistedState{State: StateClosed})
	case StateClosed:
		if stored.FailureCount == 0 {
			return nil
		}
		return b.save(ctx, persistedState{State: StateClosed})
	default:
		return nil
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold. A
// failure while HALF_OPEN reopens the circuit immediately.
func (b *CircuitBreaker) RecordFailure(ctx context.Context) error {
	stored, err := b.load(ctx)
	if err != nil {
		return err
	}

	now := b.now()
	nowMillis := now.UnixMilli()
	next := persistedState{
		FailureCount:    stored.FailureCount + 1,
		LastFailureTime: &nowMillis,
		State:           stored.State,
	}

	switch b.effective(stored, now) {
	case StateHalfOpen:
		next.FailureCount = max(next.FailureCount, b.cfg.FailureThreshold)
		next.State = StateOpen
		b.logger.WarnContext(ctx, "circuit reopened after failed probe",
			slog.String("circuit", b.key), slog.Int("failures", next.FailureCount))
	default:
		if next.FailureCount >= b.cfg.FailureThreshold {
			if stored.State != StateOpen {
				b.logger.WarnContext(ctx, "circuit opened",
					slog.String("circuit", b.key), slog.Int("failures", next.FailureCount))
			}
			next.State = StateOpen
		}
	}
	if next.State == "" {
		next.State = StateClosed
	}
	return b.save(ctx, next)
}

// Execute runs op unless the circuit is open. An open circuit calls fallback
// when given and otherwise fails with *CircuitOpenError without running op.
// Errors from op are recorded as failures and returned unchanged.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation, fallback Operation) (any, error) {
	stored, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	now := b.now()
	state := b.effective(stored, now)
	if state == StateHalfOpen && !b.admitProbe(ctx, stored) {
		state = StateOpen
	}

	if state == StateOpen {
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, b.openError(stored, now)
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if err := b.RecordFailure(ctx); err != nil {
			b.logger.ErrorContext(ctx, "failed to record circuit failure",
				slog.String("circuit", b.key), slog.Any("error", err))
		}
		return nil, opErr
	}

	if state == StateHalfOpen {
		if err := b.RecordSuccess(ctx); err != nil {
			b.logger.ErrorContext(ctx, "failed to record circuit success",
				slog.String("circuit", b.key), slog.Any("error", err))
		}
	}
	return result, nil
}

// Execute is the typed form of CircuitBreaker.Execute. A nil fallback means
// an open circuit fails with *CircuitOpenError.
func Execute[T any](ctx context.Context, b *CircuitBreaker, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	var fb Operation
	if fallback != nil {
		fb = func(ctx context.Context) (any, error) { return fallback(ctx) }
	}

	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) { return op(ctx) }, fb)
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

func (b *CircuitBreaker) effective(stored persistedState, now time.Time) State {
	if stored.State != StateOpen {
		if stored.State == "" {
			return StateClosed
		}
		return stored.State
	}
	last, ok := stored.lastFailure()
	if ok && !now.Before(last.Add(b.cfg.RecoveryTime)) {
		return StateHalfOpen
	}
	return StateOpen
}

// admitProbe reserves a HALF_OPEN probe slot. The reservation is a plain
// read-modify-write, so concurrent callers may overshoot the budget.
func (b *CircuitBreaker) admitProbe(ctx context.Context, stored persistedState) bool {
	if b.cfg.HalfOpenRequests <= 0 {
		return true
	}
	if stored.HalfOpenAttempts >= b.cfg.HalfOpenRequests {
		return false
	}

	stored.HalfOpenAttempts++
	if err := b.save(ctx, stored); err != nil {
		b.logger.ErrorContext(ctx, "failed to reserve circuit probe",
			slog.String("circuit", b.key), slog.Any("error", err))
	}
	return true
}

// openError reports the retry time of a rejection. Once the recovery window
// has passed the rejection comes from a spent probe budget, and callers are
// told to come back after another full window.
func (b *CircuitBreaker) openError(stored persistedState, now time.Time) *CircuitOpenError {
	next := now.Add(b.cfg.RecoveryTime)
	if last, ok := stored.lastFailure(); ok {
		if retry := last.Add(b.cfg.RecoveryTime); retry.After(now) {
			next = retry
		}
	}
	return &CircuitOpenError{
		CircuitKey:    b.key,
		NextRetryTime: next,
		FailureCount:  stored.FailureCount,
	}
}

func (b *CircuitBreaker) load(ctx context.Context) (persistedState, error) {
	raw, err := b.store.Get(ctx, b.storeKey)
	if err != nil {
		return persistedState{}, errors.Wrapf(err, errors.CodeUnavailable, "read circuit state for %s", b.key)
	}
	if raw == nil {
		return persistedState{State: StateClosed}, nil
	}

	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		b.logger.WarnContext(ctx, "discarding unreadable circuit state",
			slog.String("circuit", b.key), slog.Any("error", err))
		return persistedState{State: StateClosed}, nil
	}
	return state, nil
}

func (b *CircuitBreaker) save(ctx context.Context, state persistedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode circuit state")
	}
	if err := b.store.Put(ctx, b.storeKey, raw, 2*b.cfg.RecoveryTime); err != nil {
		return errors.Wrapf(err, errors.CodeUnavailable, "write circuit state for %s", b.key)
	}
	return nil
}

// Noop never opens.
type Noop struct{}

func (Noop) State(ctx context.Context) (Snapshot, error) {
	return Snapshot{State: StateClosed}, nil
}

func (Noop) RecordSuccess(ctx context.Context) error { return nil }
func (Noop) RecordFailure(ctx context.Context) error { return nil }

func (Noop) Execute(ctx context.Context, op Operation, fallback Operation) (any, error) {
	return op(ctx)
}
