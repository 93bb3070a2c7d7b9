package invoice

import (
	"context"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/protect"
)

// Key kinds used by CachedRepository.
const (
	ListKind = "invoices"
	ItemKind = "invoice"
	listID   = "all"
)

// Config sets the cache TTL per operation shape.
type Config struct {
	ListTTL time.Duration
	ItemTTL time.Duration
}

// DefaultConfig caches lists for five minutes and invoices for ten.
func DefaultConfig() Config {
	return Config{
		ListTTL: 5 * time.Minute,
		ItemTTL: 10 * time.Minute,
	}
}

// Validate checks the TTLs.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.ListTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ItemTTL, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid invoice cache configuration")
	}
	return nil
}

// CachedRepository is a Repository whose reads go through the cache and the
// protected executor.
type CachedRepository struct {
	upstream Repository
	cache    cache.CacheService
	executor *protect.Executor
	keys     *cache.KeyBuilder
	cfg      Config
	logger   *slog.Logger
}

var _ Repository = (*CachedRepository)(nil)

// Option customizes a CachedRepository.
type Option func(*CachedRepository)

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *CachedRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewCachedRepository wraps upstream. A nil cache service disables caching
// and a nil executor runs calls unguarded.
func NewCachedRepository(upstream Repository, svc cache.CacheService, executor *protect.Executor, keys *cache.KeyBuilder, cfg Config, opts ...Option) (*CachedRepository, error) {
	if upstream == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "invoice repository requires an upstream")
	}
	if keys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "invoice repository requires a key builder")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		svc = cache.Noop()
	}
	if executor == nil {
		executor = protect.New(nil, nil, "")
	}

	r := &CachedRepository{
		upstream: upstream,
		cache:    svc,
		executor: executor,
		keys:     keys,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ListInvoices returns every invoice, cached under prefix:invoices:all.
func (r *CachedRepository) ListInvoices(ctx context.Context) ([]Invoice, error) {
	key, err := r.keys.Key(ListKind, listID)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSet(ctx, r.cache, key, func(ctx context.Context) ([]Invoice, error) {
		return protect.Execute(ctx, r.executor, r.upstream.ListInvoices, nil)
	}, r.cfg.ListTTL)
}

// GetInvoice returns the invoice with id, or nil when it does not exist.
// Both outcomes are cached.
func (r *CachedRepository) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	key, err := r.keys.Key(ItemKind, id)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSet(ctx, r.cache, key, func(ctx context.Context) (*Invoice, error) {
		return protect.Execute(ctx, r.executor, func(ctx context.Context) (*Invoice, error) {
			return r.upstream.GetInvoice(ctx, id)
		}, nil)
	}, r.cfg.ItemTTL)
}

// ListLineItems reads the line items of an invoice. The result is never
// cached; the call is still rate limited and guarded by the breaker.
func (r *CachedRepository) ListLineItems(ctx context.Context, invoiceID string) ([]LineItem, error) {
	if _, err := r.keys.Key(ItemKind, invoiceID); err != nil {
		return nil, err
	}
	return protect.Execute(ctx, r.executor, func(ctx context.Context) ([]LineItem, error) {
		return r.upstream.ListLineItems(ctx, invoiceID)
	}, nil)
}

// GetInvoiceDetail loads the invoice and its line items concurrently. It
// returns nil, nil when the invoice does not exist.
func (r *CachedRepository) GetInvoiceDetail(ctx context.Context, id string) (*Detail, error) {
	var (
		inv   *Invoice
		items []LineItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inv, err = r.GetInvoice(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = r.ListLineItems(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if inv == nil {
		return nil, nil
	}
	if items == nil {
		items = []LineItem{}
	}
	return &Detail{Invoice: *inv, LineItems: items}, nil
}

// Invalidate drops the cached invoice id and the cached listing.
func (r *CachedRepository) Invalidate(ctx context.Context, id string) error {
	itemKey, err := r.keys.Key(ItemKind, id)
	if err != nil {
		return err
	}
	r.cache.Delete(ctx, itemKey)
	return r.InvalidateList(ctx)
}

// InvalidateList drops the cached listing.
func (r *CachedRepository) InvalidateList(ctx context.Context) error {
	listKey, err := r.keys.Key(ListKind, listID)
	if err != nil {
		return err
	}
	r.cache.Delete(ctx, listKey)
	r.logger.DebugContext(ctx, "invoice cache invalidated", slog.String("key", listKey))
	return nil
}
