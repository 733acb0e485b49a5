// Package domain defines the metered-billing orchestration contract:
// tracking usage, accumulating interval cost and cutting invoices at
// interval boundaries.
package domain

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidPeriod   = errors.New("invalid_billing_period")
	ErrInvalidInterval = errors.New("invalid_metering_interval")
	ErrNothingToBill   = errors.New("nothing_to_bill")
)

// BillResult is the outcome of a tracked-and-billed usage event: the
// tracker's result plus the customer's running cost for the current
// billing interval.
type BillResult struct {
	CustomerID    string                       `json:"customer_id"`
	Metric        string                       `json:"metric"`
	Quantity      float64                      `json:"quantity"`
	Track         *usagedomain.TrackResult     `json:"track"`
	PeriodStart   time.Time                    `json:"period_start"`
	PeriodEnd     time.Time                    `json:"period_end"`
	CurrentCost   float64                      `json:"current_cost"`
	CostBreakdown *pricingdomain.CostBreakdown `json:"cost_breakdown"`
}

// Service ties the tracker, the calculator and the invoice manager
// together into metered billing.
type Service interface {
	// IntervalBounds returns the customer's current billing period:
	// the custom override when one is set, otherwise the canonical
	// bounds of the configured metering interval around now.
	IntervalBounds(customerID string, now time.Time) (start, end time.Time)

	// SetCustomPeriod overrides the customer's billing period.
	SetCustomPeriod(customerID string, start, end time.Time) error

	// ClearCustomPeriod reverts the customer to the canonical interval.
	ClearCustomPeriod(customerID string)

	// TrackAndBill records a usage event and recomputes the customer's
	// running cost for the current interval.
	TrackAndBill(ctx context.Context, req usagedomain.TrackRequest) (*BillResult, error)

	// CurrentCost prices the customer's usage over the current interval.
	CurrentCost(ctx context.Context, customerID string) (*pricingdomain.CostBreakdown, error)

	// GenerateInvoice cuts an invoice for the customer's current
	// interval, applying proration and the min/max bill clamps, and
	// starts a fresh accumulation period.
	GenerateInvoice(ctx context.Context, customerID string, dueDays int) (*invoicedomain.Invoice, error)

	// GenerateDueInvoices invoices every tracked customer whose
	// billing period has ended, returning how many invoices were cut.
	GenerateDueInvoices(ctx context.Context, now time.Time) (int, error)
}
