package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvoiceNotFound         = errors.New("invoice_not_found")
	ErrInvalidStatus           = errors.New("invalid_invoice_status")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrInvalidPayment          = errors.New("invalid_payment")
	ErrInvalidInvoice          = errors.New("invalid_invoice")
	ErrEmptyInvoice            = errors.New("empty_invoice")
)

// CreateRequest creates an invoice from explicit line items.
type CreateRequest struct {
	CustomerID string         `json:"customer_id"`
	Items      []InvoiceItem  `json:"items"`
	Fees       []Fee          `json:"fees,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	DueAt      *time.Time     `json:"due_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GenerateFromUsageRequest builds an invoice from rated usage over a period.
// AdjustedTotal, when set, adds an adjustment line so the invoice total
// matches the given amount.
type GenerateFromUsageRequest struct {
	CustomerID    string         `json:"customer_id"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	TaxRate       float64        `json:"tax_rate,omitempty"`
	DueAt         *time.Time     `json:"due_at,omitempty"`
	AdjustedTotal *float64       `json:"adjusted_total,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PaymentRequest applies a payment to an invoice.
type PaymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

// Manager manages invoice lifecycle and persistence.
type Manager interface {
	Create(ctx context.Context, req CreateRequest) (*Invoice, error)
	GenerateFromUsage(ctx context.Context, req GenerateFromUsageRequest) (*Invoice, error)
	Invoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	CustomerInvoices(ctx context.Context, customerID string) ([]*Invoice, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, to InvoiceStatus, note string) (*Invoice, error)
	ApplyPayment(ctx context.Context, id snowflake.ID, req PaymentRequest) (*Invoice, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// MarkOverdue flips past-due unpaid invoices to overdue and
	// returns how many were updated.
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}
