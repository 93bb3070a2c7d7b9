// Package invoice guards reads against a rate limited invoicing upstream.
//
// CachedRepository wraps an upstream Repository. Listing and single invoice
// lookups are cached, with absent invoices cached as {"data": null} so a
// known-missing id does not hit the upstream again until its TTL elapses.
// Line items are only read as part of an invoice detail and are never
// cached, but every upstream call, cached or not, goes through the
// protect.Executor.
package invoice

import (
	"context"
	"time"
)

// Invoice is an upstream invoice document.
type Invoice struct {
	ID       string     `json:"id" msgpack:"id"`
	Number   string     `json:"number" msgpack:"number"`
	Customer string     `json:"customer" msgpack:"customer"`
	Status   string     `json:"status" msgpack:"status"`
	Currency string     `json:"currency" msgpack:"currency"`
	Total    int64      `json:"total" msgpack:"total"`
	IssuedAt time.Time  `json:"issuedAt" msgpack:"issuedAt"`
	DueAt    *time.Time `json:"dueAt,omitempty" msgpack:"dueAt,omitempty"`
}

// LineItem is one billed line of an invoice. Amounts are in minor units.
type LineItem struct {
	ID          string `json:"id" msgpack:"id"`
	InvoiceID   string `json:"invoiceId" msgpack:"invoiceId"`
	Description string `json:"description" msgpack:"description"`
	Quantity    int    `json:"quantity" msgpack:"quantity"`
	UnitPrice   int64  `json:"unitPrice" msgpack:"unitPrice"`
}

// Amount returns quantity times unit price.
func (l LineItem) Amount() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// Detail is an invoice with its line items.
type Detail struct {
	Invoice   Invoice    `json:"invoice"`
	LineItems []LineItem `json:"lineItems"`
}

// Repository is the upstream contract. GetInvoice returns nil, nil when the
// invoice does not exist; any error is an upstream failure.
type Repository interface {
	ListInvoices(ctx context.Context) ([]Invoice, error)
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListLineItems(ctx context.Context, invoiceID string) ([]LineItem, error)
}
