package domain

import (
	"context"
	"errors"
)

var (
	ErrGuardDisabled     = errors.New("ingest_guard_disabled")
	ErrIngestCapExceeded = errors.New("ingest_cap_exceeded")
)

// Guard rate-caps ingestion per customer per month. It protects the
// platform; per-customer billing quotas live in the usage tracker.
type Guard interface {
	// AllowIngest returns ErrIngestCapExceeded when the customer's
	// monthly event counter is above the configured cap. Backend
	// failures fail open.
	AllowIngest(ctx context.Context, customerID string) error

	// MonthlyCount returns the customer's event count for the current
	// month.
	MonthlyCount(ctx context.Context, customerID string) (int64, error)
}
