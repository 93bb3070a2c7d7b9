package repositorycache

import (
	"context"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TestUser represents a test entity
type TestUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// mockRepository records method calls and returns configured results.
type mockRepository[T any] struct {
	mu    sync.Mutex
	calls []string

	getResult   T
	getError    error
	byID        map[string]T
	byIDError   error
	byIdent     map[string]T
	listRecords []T
	listTotal   int
	listError   error
	countResult int
	countError  error
	rawResult   []T
	writeResult T
	writeError  error
}

func newMockRepository[T any]() *mockRepository[T] {
	return &mockRepository[T]{byID: map[string]T{}, byIdent: map[string]T{}}
}

func (m *mockRepository[T]) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

func (m *mockRepository[T]) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRepository[T]) count(method string) int {
	n := 0
	for _, c := range m.getCalls() {
		if c == method {
			n++
		}
	}
	return n
}

func (m *mockRepository[T]) lookupByID(id string) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byIDError != nil {
		var zero T
		return zero, m.byIDError
	}
	rec, ok := m.byID[id]
	if !ok {
		var zero T
		return zero, errNoRows
	}
	return rec, nil
}

func (m *mockRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("Get")
	return m.getResult, m.getError
}

func (m *mockRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByID")
	return m.lookupByID(id)
}

func (m *mockRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByIdentifier")
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byIdent[identifier]
	if !ok {
		var zero T
		return zero, errNoRows
	}
	return rec, nil
}

func (m *mockRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	m.recordCall("List")
	return m.listRecords, m.listTotal, m.listError
}

func (m *mockRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.recordCall("Count")
	return m.countResult, m.countError
}

func (m *mockRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetTx")
	return m.getResult, m.getError
}

func (m *mockRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByIDTx")
	return m.lookupByID(id)
}

func (m *mockRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByIdentifierTx")
	return m.getResult, m.getError
}

func (m *mockRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	m.recordCall("ListTx")
	return m.listRecords, m.listTotal, m.listError
}

func (m *mockRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	m.recordCall("CountTx")
	return m.countResult, m.countError
}

func (m *mockRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	m.recordCall("Raw")
	return m.rawResult, nil
}

func (m *mockRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	m.recordCall("RawTx")
	return m.rawResult, nil
}

func (m *mockRepository[T]) write(method string) (T, error) {
	m.recordCall(method)
	return m.writeResult, m.writeError
}

func (m *mockRepository[T]) writeMany(method string, records []T) ([]T, error) {
	m.recordCall(method)
	return records, m.writeError
}

func (m *mockRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	return m.write("Create")
}

func (m *mockRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return m.write("CreateTx")
}

func (m *mockRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return m.writeMany("CreateMany", records)
}

func (m *mockRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return m.writeMany("CreateManyTx", records)
}

func (m *mockRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	return m.write("GetOrCreate")
}

func (m *mockRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	return m.write("GetOrCreateTx")
}

func (m *mockRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return m.write("Update")
}

func (m *mockRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return m.write("UpdateTx")
}

func (m *mockRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return m.writeMany("UpdateMany", records)
}

func (m *mockRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return m.writeMany("UpdateManyTx", records)
}

func (m *mockRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return m.write("Upsert")
}

func (m *mockRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return m.write("UpsertTx")
}

func (m *mockRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return m.writeMany("UpsertMany", records)
}

func (m *mockRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return m.writeMany("UpsertManyTx", records)
}

func (m *mockRepository[T]) Delete(ctx context.Context, record T) error {
	_, err := m.write("Delete")
	return err
}

func (m *mockRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	_, err := m.write("DeleteTx")
	return err
}

func (m *mockRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	_, err := m.write("DeleteMany")
	return err
}

func (m *mockRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	_, err := m.write("DeleteManyTx")
	return err
}

func (m *mockRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	_, err := m.write("DeleteWhere")
	return err
}

func (m *mockRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	_, err := m.write("DeleteWhereTx")
	return err
}

func (m *mockRepository[T]) ForceDelete(ctx context.Context, record T) error {
	_, err := m.write("ForceDelete")
	return err
}

func (m *mockRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	_, err := m.write("ForceDeleteTx")
	return err
}

func (m *mockRepository[T]) Handlers() repository.ModelHandlers[T] {
	m.recordCall("Handlers")
	var handlers repository.ModelHandlers[T]
	return handlers
}
