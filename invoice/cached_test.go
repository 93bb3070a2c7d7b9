package invoice

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-guard/breaker"
	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/pkg/testsupport"
	"github.com/goliatone/go-repository-guard/protect"
	"github.com/goliatone/go-repository-guard/ratelimit"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	repo     *CachedRepository
	upstream *MemoryRepository
	store    *testsupport.Store
	clock    *testsupport.Clock
	breaker  *breaker.CircuitBreaker
}

func newEnv(t *testing.T, maxRequests int) env {
	t.Helper()
	clock := testsupport.NewClock(epoch)
	store := testsupport.NewStore(clock.Now)
	keys, err := cache.NewKeyBuilder("billing")
	require.NoError(t, err)

	svc, err := cache.NewService(store, cache.DefaultConfig())
	require.NoError(t, err)
	limiter, err := ratelimit.New(store, keys, ratelimit.Config{MaxRequests: maxRequests, Window: time.Minute, Now: clock.Now})
	require.NoError(t, err)
	cb, err := breaker.New(store, keys, "invoices", breaker.Config{FailureThreshold: 3, RecoveryTime: time.Minute, Now: clock.Now})
	require.NoError(t, err)

	upstream := NewMemoryRepository()
	upstream.Put(Invoice{ID: "inv-1", Number: "2024-001", Customer: "acme", Status: "open", Currency: "EUR", Total: 2500, IssuedAt: epoch},
		LineItem{ID: "li-1", InvoiceID: "inv-1", Description: "hosting", Quantity: 1, UnitPrice: 2000},
		LineItem{ID: "li-2", InvoiceID: "inv-1", Description: "support", Quantity: 5, UnitPrice: 100},
	)
	upstream.Put(Invoice{ID: "inv-2", Number: "2024-002", Customer: "globex", Status: "paid", Currency: "EUR", Total: 900, IssuedAt: epoch})

	repo, err := NewCachedRepository(upstream, svc, protect.New(limiter, cb, "invoices"), keys, DefaultConfig())
	require.NoError(t, err)
	return env{repo: repo, upstream: upstream, store: store, clock: clock, breaker: cb}
}

func TestListInvoicesIsCached(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	first, err := e.repo.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := e.repo.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
	assert.Equal(t, 1, e.upstream.Calls("ListInvoices"))

	_, ok := e.store.Raw("billing:invoices:all")
	assert.True(t, ok)
	assert.Equal(t, DefaultConfig().ListTTL, e.store.TTL("billing:invoices:all"))

	e.clock.Advance(DefaultConfig().ListTTL)
	_, err = e.repo.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, e.upstream.Calls("ListInvoices"))
}

func TestGetInvoiceCachesAbsence(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	missing, err := e.repo.GetInvoice(ctx, "inv-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	raw, ok := e.store.Raw("billing:invoice:inv-404")
	require.True(t, ok)
	assert.JSONEq(t, `{"data":null}`, string(raw))
	assert.Equal(t, DefaultConfig().ItemTTL, e.store.TTL("billing:invoice:inv-404"))

	e.upstream.FailWith(stderrors.New("upstream down"))
	missing, err = e.repo.GetInvoice(ctx, "inv-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 1, e.upstream.Calls("GetInvoice"))
}

func TestGetInvoiceHit(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	inv, err := e.repo.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "acme", inv.Customer)

	again, err := e.repo.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inv.Number, again.Number)
	assert.True(t, inv.IssuedAt.Equal(again.IssuedAt))
	assert.Equal(t, 1, e.upstream.Calls("GetInvoice"))
}

func TestGetInvoiceRejectsUnsafeID(t *testing.T) {
	e := newEnv(t, 100)

	_, err := e.repo.GetInvoice(context.Background(), "inv:1*")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	assert.Zero(t, e.upstream.Calls("GetInvoice"))
}

func TestListLineItemsIsNeverCachedButProtected(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		items, err := e.repo.ListLineItems(ctx, "inv-1")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}
	assert.Equal(t, 2, e.upstream.Calls("ListLineItems"))

	_, err := e.repo.ListLineItems(ctx, "inv-1")
	var limitErr *ratelimit.RateLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, e.upstream.Calls("ListLineItems"))

	for _, key := range e.store.Keys() {
		assert.NotContains(t, key, "lineitem")
	}
}

func TestUpstreamErrorsPropagateAndOpenCircuit(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()
	down := stderrors.New("upstream down")
	e.upstream.FailWith(down)

	for i := 0; i < 3; i++ {
		_, err := e.repo.GetInvoice(ctx, "inv-1")
		require.Same(t, down, err)
	}
	_, hit := e.store.Raw("billing:invoice:inv-1")
	assert.False(t, hit, "errors must not be cached")

	_, err := e.repo.GetInvoice(ctx, "inv-1")
	var openErr *breaker.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 3, e.upstream.Calls("GetInvoice"))

	e.upstream.FailWith(nil)
	e.clock.Advance(time.Minute)
	inv, err := e.repo.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv)

	snap, err := e.breaker.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, snap.State)
}

func TestCacheHitsBypassProtection(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	_, err := e.repo.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		inv, err := e.repo.GetInvoice(ctx, "inv-1")
		require.NoError(t, err)
		require.NotNil(t, inv)
	}

	_, err = e.repo.GetInvoice(ctx, "inv-2")
	assert.Equal(t, errors.CodeRateLimit, errors.GetCode(err))
}

func TestGetInvoiceDetail(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	detail, err := e.repo.GetInvoiceDetail(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "inv-1", detail.Invoice.ID)
	require.Len(t, detail.LineItems, 2)

	var sum int64
	for _, li := range detail.LineItems {
		sum += li.Amount()
	}
	assert.Equal(t, detail.Invoice.Total, sum)

	_, err = e.repo.GetInvoiceDetail(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.upstream.Calls("GetInvoice"))
	assert.Equal(t, 2, e.upstream.Calls("ListLineItems"))

	noItems, err := e.repo.GetInvoiceDetail(ctx, "inv-2")
	require.NoError(t, err)
	assert.NotNil(t, noItems.LineItems)
	assert.Empty(t, noItems.LineItems)

	missing, err := e.repo.GetInvoiceDetail(ctx, "inv-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInvalidate(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	_, _ = e.repo.GetInvoice(ctx, "inv-1")
	_, _ = e.repo.ListInvoices(ctx)

	e.upstream.Put(Invoice{ID: "inv-1", Status: "paid"})
	require.NoError(t, e.repo.Invalidate(ctx, "inv-1"))

	inv, err := e.repo.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", inv.Status)
	_, _ = e.repo.ListInvoices(ctx)
	assert.Equal(t, 2, e.upstream.Calls("ListInvoices"))

	assert.Error(t, e.repo.Invalidate(ctx, "bad id"))
}

func TestCacheStoreOutageDegradesToUncached(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	broken := testsupport.NewStore(e.clock.Now)
	broken.FailAll(true)
	svc, err := cache.NewService(broken, cache.DefaultConfig())
	require.NoError(t, err)
	repo, err := NewCachedRepository(e.upstream, svc, e.repo.executor, e.repo.keys, DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		list, err := repo.ListInvoices(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	}
	assert.Equal(t, 3, e.upstream.Calls("ListInvoices"))
}

func TestNewCachedRepositoryValidation(t *testing.T) {
	keys, _ := cache.NewKeyBuilder("billing")

	_, err := NewCachedRepository(nil, nil, nil, keys, DefaultConfig())
	assert.Error(t, err)
	_, err = NewCachedRepository(NewMemoryRepository(), nil, nil, nil, DefaultConfig())
	assert.Error(t, err)
	_, err = NewCachedRepository(NewMemoryRepository(), nil, nil, keys, Config{})
	assert.Error(t, err)

	repo, err := NewCachedRepository(NewMemoryRepository(), nil, nil, keys, DefaultConfig())
	require.NoError(t, err)
	list, err := repo.ListInvoices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
