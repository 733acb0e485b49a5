// Package domain contains the invoice entity and its status machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "draft"
	StatusPending       InvoiceStatus = "pending"
	StatusSent          InvoiceStatus = "sent"
	StatusPaid          InvoiceStatus = "paid"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusOverdue       InvoiceStatus = "overdue"
	StatusCanceled      InvoiceStatus = "canceled"
	StatusVoid          InvoiceStatus = "void"
)

// Valid reports whether the status is a known value.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSent, StatusPaid,
		StatusPartiallyPaid, StatusOverdue, StatusCanceled, StatusVoid:
		return true
	}
	return false
}

var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:         {StatusPending, StatusSent, StatusCanceled, StatusVoid},
	StatusPending:       {StatusSent, StatusPaid, StatusPartiallyPaid, StatusOverdue, StatusCanceled, StatusVoid},
	StatusSent:          {StatusPaid, StatusPartiallyPaid, StatusOverdue, StatusCanceled, StatusVoid},
	StatusPartiallyPaid: {StatusPaid, StatusOverdue, StatusCanceled, StatusVoid},
	StatusOverdue:       {StatusPaid, StatusPartiallyPaid, StatusCanceled, StatusVoid},
	StatusPaid:          {},
	StatusCanceled:      {},
	StatusVoid:          {},
}

// CanTransition reports whether the status machine allows from → to.
func CanTransition(from, to InvoiceStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvoiceItem is one line of an invoice.
type InvoiceItem struct {
	ID           snowflake.ID   `json:"id"`
	Description  string         `json:"description"`
	Quantity     float64        `json:"quantity"`
	UnitPrice    float64        `json:"unit_price"`
	TaxRate      float64        `json:"tax_rate,omitempty"`
	Metric       string         `json:"metric,omitempty"`
	Category     string         `json:"category,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Subtotal is the pre-tax amount of the line.
func (i InvoiceItem) Subtotal() float64 {
	return i.Quantity * i.UnitPrice
}

// Tax is the tax amount of the line.
func (i InvoiceItem) Tax() float64 {
	return i.Subtotal() * i.TaxRate
}

// Fee is a flat charge outside the taxed line items.
type Fee struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Payment is one payment applied to an invoice. Payments are append-only.
type Payment struct {
	ID        snowflake.ID `json:"id"`
	Amount    float64      `json:"amount"`
	Method    string       `json:"method,omitempty"`
	Reference string       `json:"reference,omitempty"`
	PaidAt    time.Time    `json:"paid_at"`
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	From InvoiceStatus `json:"from"`
	To   InvoiceStatus `json:"to"`
	At   time.Time     `json:"at"`
	Note string        `json:"note,omitempty"`
}

// Invoice owns an ordered list of items, an append-only payment list and
// a status machine with append-only history.
type Invoice struct {
	ID            snowflake.ID   `json:"id"`
	Number        string         `json:"number"`
	CustomerID    string         `json:"customer_id"`
	Status        InvoiceStatus  `json:"status"`
	Items         []InvoiceItem  `json:"items"`
	Fees          []Fee          `json:"fees,omitempty"`
	Payments      []Payment      `json:"payments,omitempty"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`
	Currency      string         `json:"currency"`
	PeriodStart   time.Time      `json:"period_start,omitempty"`
	PeriodEnd     time.Time      `json:"period_end,omitempty"`
	IssuedAt      *time.Time     `json:"issued_at,omitempty"`
	DueAt         *time.Time     `json:"due_at,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TaxableAmount sums the pre-tax line subtotals.
func (inv *Invoice) TaxableAmount() float64 {
	var total float64
	for _, item := range inv.Items {
		total += item.Subtotal()
	}
	return total
}

// TaxTotal sums the per-line tax amounts.
func (inv *Invoice) TaxTotal() float64 {
	var total float64
	for _, item := range inv.Items {
		total += item.Tax()
	}
	return total
}

// FeesTotal sums the flat fees.
func (inv *Invoice) FeesTotal() float64 {
	var total float64
	for _, fee := range inv.Fees {
		total += fee.Amount
	}
	return total
}

// Total is taxable amount plus tax plus fees.
func (inv *Invoice) Total() float64 {
	return inv.TaxableAmount() + inv.TaxTotal() + inv.FeesTotal()
}

// TotalPaid sums the applied payments.
func (inv *Invoice) TotalPaid() float64 {
	var total float64
	for _, payment := range inv.Payments {
		total += payment.Amount
	}
	return total
}

// BalanceDue is the outstanding amount, never negative.
func (inv *Invoice) BalanceDue() float64 {
	balance := inv.Total() - inv.TotalPaid()
	if balance < 0 {
		return 0
	}
	return balance
}

// SetStatus transitions the invoice and appends to the status history.
func (inv *Invoice) SetStatus(to InvoiceStatus, at time.Time, note string) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if inv.Status == to {
		return nil
	}
	if !CanTransition(inv.Status, to) {
		return ErrInvalidStatusTransition
	}
	inv.StatusHistory = append(inv.StatusHistory, StatusChange{
		From: inv.Status,
		To:   to,
		At:   at.UTC(),
		Note: note,
	})
	inv.Status = to
	inv.UpdatedAt = at.UTC()
	return nil
}

// ApplyPayment appends a payment and advances the status to paid or
// partially_paid based on the remaining balance.
func (inv *Invoice) ApplyPayment(payment Payment) error {
	if payment.Amount <= 0 {
		return ErrInvalidPayment
	}
	switch inv.Status {
	case StatusCanceled, StatusVoid, StatusPaid:
		return ErrInvalidStatusTransition
	}

	target := StatusPartiallyPaid
	if inv.Total()-inv.TotalPaid()-payment.Amount <= 0 {
		target = StatusPaid
	}
	// Validate before appending so a rejected transition leaves the
	// payment list untouched.
	if inv.Status != target && !CanTransition(inv.Status, target) {
		return ErrInvalidStatusTransition
	}
	inv.Payments = append(inv.Payments, payment)
	return inv.SetStatus(target, payment.PaidAt, "payment applied")
}

// IsOverdue reports whether an unpaid invoice is past its due date.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.DueAt == nil {
		return false
	}
	switch inv.Status {
	case StatusPaid, StatusCanceled, StatusVoid, StatusDraft:
		return false
	}
	return now.UTC().After(*inv.DueAt) && inv.BalanceDue() > 0
}
