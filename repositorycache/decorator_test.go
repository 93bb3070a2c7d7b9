package repositorycache

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-guard/breaker"
	"github.com/goliatone/go-repository-guard/cache"
	"github.com/goliatone/go-repository-guard/pkg/testsupport"
	"github.com/goliatone/go-repository-guard/protect"
	"github.com/goliatone/go-repository-guard/ratelimit"
)

var errNoRows = sql.ErrNoRows

type testEnv struct {
	cached  *CachedRepository[TestUser]
	base    *mockRepository[TestUser]
	store   *testsupport.Store
	clock   *testsupport.Clock
	breaker *breaker.CircuitBreaker
}

func newTestEnv(t *testing.T, maxRequests int, opts ...Option) testEnv {
	t.Helper()

	clock := testsupport.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	store := testsupport.NewStore(clock.Now)
	keys, err := cache.NewKeyBuilder("app")
	if err != nil {
		t.Fatalf("NewKeyBuilder: %v", err)
	}
	svc, err := cache.NewService(store, cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	limiter, err := ratelimit.New(store, keys, ratelimit.Config{MaxRequests: maxRequests, Window: time.Minute, Now: clock.Now})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	cb, err := breaker.New(store, keys, "users", breaker.Config{FailureThreshold: 3, RecoveryTime: time.Minute, Now: clock.Now})
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}

	base := newMockRepository[TestUser]()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	cached, err := New[TestUser](base, svc, protect.New(limiter, cb, "users"), keys, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return testEnv{cached: cached, base: base, store: store, clock: clock, breaker: cb}
}

func TestNew(t *testing.T) {
	env := newTestEnv(t, 100)

	if env.cached.Kind() != "test_users" {
		t.Errorf("expected kind test_users, got %q", env.cached.Kind())
	}

	keys, _ := cache.NewKeyBuilder("app")
	if _, err := New[TestUser](nil, nil, nil, keys); err == nil {
		t.Error("expected error for nil base repository")
	}
	if _, err := New[TestUser](newMockRepository[TestUser](), nil, nil, nil); err == nil {
		t.Error("expected error for nil key builder")
	}
	if _, err := New[TestUser](newMockRepository[TestUser](), nil, nil, keys, WithKind("bad kind")); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestCachedReadMethods_SecondCallIsHit(t *testing.T) {
	tests := []struct {
		name      string
		setupRepo func(*mockRepository[TestUser])
		operation func(*CachedRepository[TestUser]) error
		method    string
	}{
		{
			name:      "Get",
			setupRepo: func(repo *mockRepository[TestUser]) { repo.getResult = TestUser{ID: "1", Name: "first"} },
			operation: func(c *CachedRepository[TestUser]) error {
				user, err := c.Get(context.Background())
				if err == nil && user.ID != "1" {
					return errors.New("unexpected user " + user.ID)
				}
				return err
			},
			method: "Get",
		},
		{
			name:      "GetByID",
			setupRepo: func(repo *mockRepository[TestUser]) { repo.byID["u-1"] = TestUser{ID: "u-1", Name: "Ann"} },
			operation: func(c *CachedRepository[TestUser]) error {
				user, err := c.GetByID(context.Background(), "u-1")
				if err == nil && user.Name != "Ann" {
					return errors.New("unexpected user " + user.Name)
				}
				return err
			},
			method: "GetByID",
		},
		{
			name:      "GetByIdentifier",
			setupRepo: func(repo *mockRepository[TestUser]) { repo.byIdent["ann"] = TestUser{ID: "u-1", Name: "ann"} },
			operation: func(c *CachedRepository[TestUser]) error {
				_, err := c.GetByIdentifier(context.Background(), "ann")
				return err
			},
			method: "GetByIdentifier",
		},
		{
			name: "List",
			setupRepo: func(repo *mockRepository[TestUser]) {
				repo.listRecords = []TestUser{{ID: "1"}, {ID: "2"}}
				repo.listTotal = 2
			},
			operation: func(c *CachedRepository[TestUser]) error {
				records, total, err := c.List(context.Background())
				if err == nil && (len(records) != 2 || total != 2) {
					return errors.New("unexpected list result")
				}
				return err
			},
			method: "List",
		},
		{
			name:      "Count",
			setupRepo: func(repo *mockRepository[TestUser]) { repo.countResult = 42 },
			operation: func(c *CachedRepository[TestUser]) error {
				n, err := c.Count(context.Background())
				if err == nil && n != 42 {
					return errors.New("unexpected count")
				}
				return err
			},
			method: "Count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 100)
			tt.setupRepo(env.base)

			for i := 0; i < 2; i++ {
				if err := tt.operation(env.cached); err != nil {
					t.Fatalf("call %d failed: %v", i, err)
				}
			}
			if n := env.base.count(tt.method); n != 1 {
				t.Errorf("expected 1 base call to %s, got %d", tt.method, n)
			}
			for _, key := range env.store.Keys() {
				if strings.HasPrefix(key, "app:test_users:") {
					return
				}
			}
			t.Errorf("no cache key under app:test_users: in %v", env.store.Keys())
		})
	}
}

func TestGetByID_NotFoundIsCached(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	_, err := env.cached.GetByID(ctx, "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	_, err = env.cached.GetByID(ctx, "missing")
	if !errors.Is(err, ErrRecordNotFound) || !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrRecordNotFound wrapping sql.ErrNoRows, got %v", err)
	}
	if n := env.base.count("GetByID"); n != 1 {
		t.Errorf("expected absence to be cached, base called %d times", n)
	}

	snap, err := env.breaker.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.FailureCount != 0 {
		t.Errorf("not found must not count as a circuit failure, got %d", snap.FailureCount)
	}
}

func TestWithNotFound(t *testing.T) {
	errMissing := errors.New("missing")
	env := newTestEnv(t, 100, WithNotFound(func(err error) bool { return errors.Is(err, errMissing) }))
	env.base.getError = errMissing

	for i := 0; i < 2; i++ {
		if _, err := env.cached.Get(context.Background()); err == nil {
			t.Fatal("expected a not found error")
		}
	}
	if n := env.base.count("Get"); n != 1 {
		t.Errorf("expected 1 base call, got %d", n)
	}
}

func TestCachedReadMethods_ErrorPropagation(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	boom := errors.New("database down")
	env.base.listError = boom

	for i := 0; i < 3; i++ {
		if _, _, err := env.cached.List(ctx); err != boom {
			t.Fatalf("expected original error, got %v", err)
		}
	}
	if n := env.base.count("List"); n != 3 {
		t.Errorf("errors must not be cached, base called %d times", n)
	}

	_, _, err := env.cached.List(ctx)
	var openErr *breaker.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected open circuit after 3 failures, got %v", err)
	}
	if n := env.base.count("List"); n != 3 {
		t.Errorf("open circuit must not reach base, got %d calls", n)
	}
}

func TestUncachedReadsAreProtected(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	env.base.byID["u-1"] = TestUser{ID: "u-1"}
	env.base.rawResult = []TestUser{{ID: "r"}}

	if _, err := env.cached.GetByIDTx(ctx, nil, "u-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.GetByIDTx(ctx, nil, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows from tx lookup, got %v", err)
	}
	if _, _, err := env.cached.ListTx(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.Raw(ctx, "SELECT 1"); err != nil {
		t.Fatal(err)
	}

	_, err := env.cached.CountTx(ctx, nil)
	var limitErr *ratelimit.RateLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if n := env.base.count("CountTx"); n != 0 {
		t.Errorf("denied call reached base")
	}
	if env.cached.TrackedKeys() != 0 {
		t.Errorf("uncached reads must not register keys")
	}
}

func TestWriteMethodsDelegation(t *testing.T) {
	ctx := context.Background()
	user := TestUser{ID: "u-1", Name: "ann"}
	users := []TestUser{user}

	tests := []struct {
		name      string
		operation func(*CachedRepository[TestUser]) error
	}{
		{"Create", func(c *CachedRepository[TestUser]) error { _, err := c.Create(ctx, user); return err }},
		{"CreateTx", func(c *CachedRepository[TestUser]) error { _, err := c.CreateTx(ctx, nil, user); return err }},
		{"CreateMany", func(c *CachedRepository[TestUser]) error { _, err := c.CreateMany(ctx, users); return err }},
		{"CreateManyTx", func(c *CachedRepository[TestUser]) error { _, err := c.CreateManyTx(ctx, nil, users); return err }},
		{"GetOrCreate", func(c *CachedRepository[TestUser]) error { _, err := c.GetOrCreate(ctx, user); return err }},
		{"GetOrCreateTx", func(c *CachedRepository[TestUser]) error { _, err := c.GetOrCreateTx(ctx, nil, user); return err }},
		{"Update", func(c *CachedRepository[TestUser]) error { _, err := c.Update(ctx, user); return err }},
		{"UpdateTx", func(c *CachedRepository[TestUser]) error { _, err := c.UpdateTx(ctx, nil, user); return err }},
		{"UpdateMany", func(c *CachedRepository[TestUser]) error { _, err := c.UpdateMany(ctx, users); return err }},
		{"UpdateManyTx", func(c *CachedRepository[TestUser]) error { _, err := c.UpdateManyTx(ctx, nil, users); return err }},
		{"Upsert", func(c *CachedRepository[TestUser]) error { _, err := c.Upsert(ctx, user); return err }},
		{"UpsertTx", func(c *CachedRepository[TestUser]) error { _, err := c.UpsertTx(ctx, nil, user); return err }},
		{"UpsertMany", func(c *CachedRepository[TestUser]) error { _, err := c.UpsertMany(ctx, users); return err }},
		{"UpsertManyTx", func(c *CachedRepository[TestUser]) error { _, err := c.UpsertManyTx(ctx, nil, users); return err }},
		{"Delete", func(c *CachedRepository[TestUser]) error { return c.Delete(ctx, user) }},
		{"DeleteTx", func(c *CachedRepository[TestUser]) error { return c.DeleteTx(ctx, nil, user) }},
		{"DeleteMany", func(c *CachedRepository[TestUser]) error { return c.DeleteMany(ctx) }},
		{"DeleteManyTx", func(c *CachedRepository[TestUser]) error { return c.DeleteManyTx(ctx, nil) }},
		{"DeleteWhere", func(c *CachedRepository[TestUser]) error { return c.DeleteWhere(ctx) }},
		{"DeleteWhereTx", func(c *CachedRepository[TestUser]) error { return c.DeleteWhereTx(ctx, nil) }},
		{"ForceDelete", func(c *CachedRepository[TestUser]) error { return c.ForceDelete(ctx, user) }},
		{"ForceDeleteTx", func(c *CachedRepository[TestUser]) error { return c.ForceDeleteTx(ctx, nil, user) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1)
			env.base.writeResult = user

			// Writes are not rate limited: run each twice against a limit of one.
			for i := 0; i < 2; i++ {
				if err := tt.operation(env.cached); err != nil {
					t.Fatalf("write failed: %v", err)
				}
			}
			if n := env.base.count(tt.name); n != 2 {
				t.Errorf("expected 2 delegated calls, got %d", n)
			}
		})
	}
}

func primeReads(t *testing.T, env testEnv) {
	t.Helper()
	ctx := context.Background()
	env.base.byID["u-1"] = TestUser{ID: "u-1", Name: "ann"}
	env.base.byID["u-2"] = TestUser{ID: "u-2", Name: "bob"}
	env.base.listRecords = []TestUser{{ID: "u-1"}, {ID: "u-2"}}
	env.base.listTotal = 2

	for _, id := range []string{"u-1", "u-2"} {
		if _, err := env.cached.GetByID(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := env.cached.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestInvalidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		write   func(*CachedRepository[TestUser]) error
		refetch map[string]int
	}{
		{
			name:    "create drops list and count",
			write:   func(c *CachedRepository[TestUser]) error { _, err := c.Create(ctx, TestUser{ID: "u-3"}); return err },
			refetch: map[string]int{"GetByID": 2, "List": 2, "Count": 2},
		},
		{
			name:    "update drops the record and queries",
			write:   func(c *CachedRepository[TestUser]) error { _, err := c.Update(ctx, TestUser{ID: "u-1"}); return err },
			refetch: map[string]int{"GetByID": 3, "List": 2, "Count": 2},
		},
		{
			name:    "delete many drops everything",
			write:   func(c *CachedRepository[TestUser]) error { return c.DeleteMany(ctx) },
			refetch: map[string]int{"GetByID": 4, "List": 2, "Count": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 100)
			primeReads(t, env)
			env.base.writeResult = TestUser{ID: "u-1"}

			if err := tt.write(env.cached); err != nil {
				t.Fatal(err)
			}
			primeReads(t, env)

			for method, want := range tt.refetch {
				if got := env.base.count(method); got != want {
					t.Errorf("%s: expected %d base calls, got %d", method, want, got)
				}
			}
		})
	}
}

func TestUpdateClearsCachedAbsence(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	if _, err := env.cached.GetByID(ctx, "u-9"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not found, got %v", err)
	}
	env.base.byID["u-9"] = TestUser{ID: "u-9", Name: "new"}
	env.base.writeResult = TestUser{ID: "u-9", Name: "new"}
	if _, err := env.cached.Upsert(ctx, TestUser{ID: "u-9"}); err != nil {
		t.Fatal(err)
	}

	user, err := env.cached.GetByID(ctx, "u-9")
	if err != nil || user.Name != "new" {
		t.Fatalf("expected fresh record, got %+v, %v", user, err)
	}
}

func TestUpdateDropsLookupsByOldIdentifier(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	env.base.byIdent["alice"] = TestUser{ID: "u-1", Name: "alice"}
	env.base.byID["u-2"] = TestUser{ID: "u-2", Name: "carol"}

	if _, err := env.cached.GetByIdentifier(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.GetByID(ctx, "u-2"); err != nil {
		t.Fatal(err)
	}

	renamed := TestUser{ID: "u-1", Name: "bob"}
	delete(env.base.byIdent, "alice")
	env.base.byIdent["bob"] = renamed
	env.base.writeResult = renamed
	if _, err := env.cached.Update(ctx, renamed); err != nil {
		t.Fatal(err)
	}

	if user, err := env.cached.GetByIdentifier(ctx, "alice"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected the old identifier to miss after rename, got %+v, %v", user, err)
	}
	if n := env.base.count("GetByIdentifier"); n != 2 {
		t.Errorf("expected the old identifier lookup to be refetched, base called %d times", n)
	}
	if _, err := env.cached.GetByID(ctx, "u-2"); err != nil {
		t.Fatal(err)
	}
	if n := env.base.count("GetByID"); n != 1 {
		t.Errorf("lookups of other ids should stay cached, base called %d times", n)
	}
}

func TestRegistryForgetsExpiredKeys(t *testing.T) {
	env := newTestEnv(t, 100, WithTTL(time.Minute))
	ctx := context.Background()
	env.base.byID["u-1"] = TestUser{ID: "u-1"}
	env.base.countResult = 3

	if _, err := env.cached.GetByID(ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if n := env.cached.TrackedKeys(); n != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", n)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(45 * time.Second)

	if n := env.cached.InvalidateAll(ctx); n != 1 {
		t.Errorf("expected only the re-tracked key invalidated, got %d", n)
	}
	if n := env.cached.TrackedKeys(); n != 0 {
		t.Errorf("expected an empty registry, got %d", n)
	}
}

func TestCacheTags(t *testing.T) {
	env := newTestEnv(t, 100)
	env.base.byID["u-1"] = TestUser{ID: "u-1"}
	env.base.countResult = 1

	tagged := WithCacheTags(context.Background(), "tenant-a", "tenant-a", "")
	if got := cacheTagsFromContext(tagged); len(got) != 1 || got[0] != "tenant-a" {
		t.Fatalf("expected deduplicated tags, got %v", got)
	}

	if _, err := env.cached.GetByID(tagged, "u-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cached.Count(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.cached.TrackedKeys() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", env.cached.TrackedKeys())
	}

	if n := env.cached.InvalidateTags(context.Background(), "tenant-a"); n != 1 {
		t.Fatalf("expected 1 key invalidated, got %d", n)
	}
	if n := env.cached.InvalidateAll(context.Background()); n != 1 {
		t.Fatalf("expected remaining key invalidated, got %d", n)
	}
}

func TestKeySerializerIntegration(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	env.base.countResult = 5

	active := func(q *bun.SelectQuery) *bun.SelectQuery { return q }
	archived := func(q *bun.SelectQuery) *bun.SelectQuery { return q }

	for _, criteria := range [][]repository.SelectCriteria{{active}, {active}, {archived}} {
		if _, err := env.cached.Count(ctx, criteria...); err != nil {
			t.Fatal(err)
		}
	}
	if n := env.base.count("Count"); n != 2 {
		t.Errorf("expected distinct criteria to get distinct keys, base called %d times", n)
	}
}

func TestRepositoryInterfaceSatisfaction(t *testing.T) {
	var _ repository.Repository[TestUser] = newTestEnv(t, 1).cached
}

func TestKindOf(t *testing.T) {
	type BillingAccount struct{}
	if got := kindOf[*BillingAccount](); got != "billing_accounts" {
		t.Errorf("kindOf pointer = %q", got)
	}
	if got := kindOf[map[string]any](); got != "records" {
		t.Errorf("kindOf unnamed = %q", got)
	}
}
