package invoice

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-process upstream used by demos and tests. It
// counts calls per operation and can be told to fail.
type MemoryRepository struct {
	mu       sync.Mutex
	invoices map[string]Invoice
	items    map[string][]LineItem
	err      error
	calls    map[string]int
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty upstream.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invoices: make(map[string]Invoice),
		items:    make(map[string][]LineItem),
		calls:    make(map[string]int),
	}
}

// Put stores inv and its line items, replacing any previous version.
func (m *MemoryRepository) Put(inv Invoice, items ...LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
	m.items[inv.ID] = append([]LineItem(nil), items...)
}

// Remove deletes the invoice id.
func (m *MemoryRepository) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
	delete(m.items, id)
}

// FailWith makes every call return err until it is called with nil.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times op was invoked, failed calls included.
func (m *MemoryRepository) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryRepository) ListInvoices(ctx context.Context) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListInvoices"]++
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetInvoice"]++
	if m.err != nil {
		return nil, m.err
	}

	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *MemoryRepository) ListLineItems(ctx context.Context, invoiceID string) ([]LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListLineItems"]++
	if m.err != nil {
		return nil, m.err
	}
	return append([]LineItem(nil), m.items[invoiceID]...), nil
}
