package repositorycache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/jinzhu/inflection"
	"github.com/jmgilman/go/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/protect"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// ErrRecordNotFound is returned when a cached lookup replays a recorded
// absence. It wraps sql.ErrNoRows.
var ErrRecordNotFound = errors.Wrap(sql.ErrNoRows, errors.CodeNotFound, "record not found")

// DefaultTTL applies when no WithTTL option is given.
const DefaultTTL = 5 * time.Minute

// pruneEvery is how many tracked reads pass between sweeps of expired
// registry entries.
const pruneEvery = 1024

// Read method names, also used as registry tags for invalidation.
const (
	methodGet             = "Get"
	methodGetByID         = "GetByID"
	methodGetByIdentifier = "GetByIdentifier"
	methodList            = "List"
	methodCount           = "Count"
)

// listResult wraps the tuple result from List operations for caching.
type listResult[T any] struct {
	Records []T `json:"records" msgpack:"records"`
	Total   int `json:"total" msgpack:"total"`
}

// lookupResult records whether a single record lookup found anything, so an
// absence can be cached like a hit.
type lookupResult[T any] struct {
	Record T    `json:"record" msgpack:"record"`
	Found  bool `json:"found" msgpack:"found"`

	// missErr keeps the upstream not-found error for the call that observed
	// it. It is not persisted; replays use ErrRecordNotFound.
	missErr error
}

// keyEntry is what the registry remembers about a cached key. A zero
// expiresAt never expires.
type keyEntry struct {
	method    string
	arg       string
	tags      []string
	expiresAt time.Time
}

func (e keyEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// CachedRepository decorates a base repository. Reads are cached and go
// through the protected executor; writes pass through and invalidate the
// keys this instance has cached.
type CachedRepository[T any] struct {
	base          repository.Repository[T]
	cache         cache.CacheService
	executor      *protect.Executor
	keys          *cache.KeyBuilder
	keySerializer cache.KeySerializer
	kind          string
	ttl           time.Duration
	notFound      func(error) bool
	logger        *slog.Logger
	now           func() time.Time
	registry      *xsync.MapOf[string, keyEntry]
	tracked       atomic.Uint64
}

type settings struct {
	serializer cache.KeySerializer
	ttl        time.Duration
	kind       string
	notFound   func(error) bool
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a CachedRepository.
type Option func(*settings)

// WithKeySerializer replaces the reflection based argument serializer.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *settings) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithTTL sets the TTL of every cached read.
func WithTTL(ttl time.Duration) Option {
	return func(o *settings) { o.ttl = ttl }
}

// WithKind overrides the key kind derived from the record type.
func WithKind(kind string) Option {
	return func(o *settings) { o.kind = kind }
}

// WithNotFound sets the predicate that classifies base errors as absence.
// Absences are cached and do not count as circuit failures.
func WithNotFound(fn func(error) bool) Option {
	return func(o *settings) {
		if fn != nil {
			o.notFound = fn
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *settings) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used to expire registry entries. It should match
// the clock of the cache store.
func WithClock(now func() time.Time) Option {
	return func(o *settings) {
		if now != nil {
			o.now = now
		}
	}
}

// IsNotFound is the default absence predicate.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// New wraps base. Keys are prefix:kind:hash where kind is the plural snake
// case name of T unless WithKind is given.
func New[T any](base repository.Repository[T], svc cache.CacheService, executor *protect.Executor, keys *cache.KeyBuilder, opts ...Option) (*CachedRepository[T], error) {
	if base == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cached repository requires a base repository")
	}
	if keys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cached repository requires a key builder")
	}

	cfg := settings{
		serializer: cache.NewKeySerializer(),
		ttl:        DefaultTTL,
		notFound:   IsNotFound,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.kind == "" {
		cfg.kind = kindOf[T]()
	}
	if _, err := keys.KindPrefix(cfg.kind); err != nil {
		return nil, err
	}
	if svc == nil {
		svc = cache.Noop()
	}
	if executor == nil {
		executor = protect.New(nil, nil, "")
	}

	return &CachedRepository[T]{
		base:          base,
		cache:         svc,
		executor:      executor,
		keys:          keys,
		keySerializer: cfg.serializer,
		kind:          cfg.kind,
		ttl:           cfg.ttl,
		notFound:      cfg.notFound,
		logger:        cfg.logger,
		now:           cfg.now,
		registry:      xsync.NewMapOf[string, keyEntry](),
	}, nil
}

// Kind returns the key kind segment used for this repository.
func (c *CachedRepository[T]) Kind() string {
	return c.kind
}

// Get retrieves a single record using the provided criteria, with caching
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return c.lookup(ctx, methodGet, "", func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	}, criteria)
}

// GetByID retrieves a record by ID with optional criteria, with caching
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.lookup(ctx, methodGetByID, id, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	}, id, criteria)
}

// GetByIdentifier retrieves a record by identifier with optional criteria, with caching
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.lookup(ctx, methodGetByIdentifier, identifier, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	}, identifier, criteria)
}

// List retrieves multiple records using the provided criteria, with caching
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	key, err := c.track(ctx, methodList, "", criteria)
	if err != nil {
		return nil, 0, err
	}
	res, err := cache.GetOrSet(ctx, c.cache, key, func(ctx context.Context) (listResult[T], error) {
		return protect.Execute(ctx, c.executor, func(ctx context.Context) (listResult[T], error) {
			records, total, err := c.base.List(ctx, criteria...)
			return listResult[T]{Records: records, Total: total}, err
		}, nil)
	}, c.ttl)
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria, with caching
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	key, err := c.track(ctx, methodCount, "", criteria)
	if err != nil {
		return 0, err
	}
	return cache.GetOrSet(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return protect.Execute(ctx, c.executor, func(ctx context.Context) (int, error) {
			return c.base.Count(ctx, criteria...)
		}, nil)
	}, c.ttl)
}

// GetTx retrieves a single record within a transaction. Not cached.
func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.guardLookup(ctx, func(ctx context.Context) (T, error) {
		return c.base.GetTx(ctx, tx, criteria...)
	})
}

// GetByIDTx retrieves a record by ID within a transaction. Not cached.
func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.guardLookup(ctx, func(ctx context.Context) (T, error) {
		return c.base.GetByIDTx(ctx, tx, id, criteria...)
	})
}

// GetByIdentifierTx retrieves a record by identifier within a transaction. Not cached.
func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.guardLookup(ctx, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
	})
}

// ListTx retrieves multiple records within a transaction. Not cached.
func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := protect.Execute(ctx, c.executor, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.ListTx(ctx, tx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// CountTx counts records within a transaction. Not cached.
func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return protect.Execute(ctx, c.executor, func(ctx context.Context) (int, error) {
		return c.base.CountTx(ctx, tx, criteria...)
	}, nil)
}

// Raw executes a raw SQL query. Not cached.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return protect.Execute(ctx, c.executor, func(ctx context.Context) ([]T, error) {
		return c.base.Raw(ctx, sql, args...)
	}, nil)
}

// RawTx executes a raw SQL query within a transaction. Not cached.
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return protect.Execute(ctx, c.executor, func(ctx context.Context) ([]T, error) {
		return c.base.RawTx(ctx, tx, sql, args...)
	}, nil)
}

// Handlers returns the model handlers from the base repository
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// lookup serves single record reads. Absences reported by the base are
// cached and replayed without reaching the executor.
func (c *CachedRepository[T]) lookup(ctx context.Context, method, arg string, fetch func(context.Context) (T, error), args ...any) (T, error) {
	var zero T

	key, err := c.track(ctx, method, arg, args...)
	if err != nil {
		return zero, err
	}

	res, err := cache.GetOrSet(ctx, c.cache, key, func(ctx context.Context) (lookupResult[T], error) {
		return c.guard(ctx, fetch)
	}, c.ttl)
	if err != nil {
		return zero, err
	}
	if !res.Found {
		if res.missErr != nil {
			return zero, res.missErr
		}
		return zero, ErrRecordNotFound
	}
	return res.Record, nil
}

func (c *CachedRepository[T]) guardLookup(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	res, err := c.guard(ctx, fetch)
	if err != nil {
		var zero T
		return zero, err
	}
	if !res.Found {
		return res.Record, res.missErr
	}
	return res.Record, nil
}

// guard runs fetch through the executor, turning not-found errors into a
// successful absent result so they are not counted as circuit failures.
func (c *CachedRepository[T]) guard(ctx context.Context, fetch func(context.Context) (T, error)) (lookupResult[T], error) {
	return protect.Execute(ctx, c.executor, func(ctx context.Context) (lookupResult[T], error) {
		record, err := fetch(ctx)
		if err != nil {
			if c.notFound(err) {
				return lookupResult[T]{missErr: err}, nil
			}
			return lookupResult[T]{}, err
		}
		return lookupResult[T]{Record: record, Found: true}, nil
	}, nil)
}

// track builds the hashed key for a read and records it for invalidation.
func (c *CachedRepository[T]) track(ctx context.Context, method, arg string, args ...any) (string, error) {
	key, err := c.keys.Hashed(c.kind, c.keySerializer.SerializeKey(method, args...))
	if err != nil {
		return "", err
	}
	entry := keyEntry{method: method, arg: arg, tags: cacheTagsFromContext(ctx)}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.registry.Store(key, entry)
	if c.tracked.Add(1)%pruneEvery == 0 {
		c.pruneExpired()
	}
	return key, nil
}

// kindOf derives the key kind from the record type: *models.BillingAccount
// becomes billing_accounts.
func kindOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := toSnake(t.Name())
	if name == "" {
		return "records"
	}
	return inflection.Plural(name)
}

func recordField(record any, names ...string) (string, bool) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", false
	}
	for _, name := range names {
		field := v.FieldByName(name)
		if field.IsValid() && field.CanInterface() {
			return fmt.Sprint(field.Interface()), true
		}
	}
	return "", false
}
