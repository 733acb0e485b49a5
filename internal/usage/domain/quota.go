package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DefaultNearLimitThreshold is the usage percentage above which a quota
// is considered close to exhaustion.
const DefaultNearLimitThreshold = 80.0

// UsageQuota is the enforcement counterpart of a limit: a rolling
// consumption counter against an allocated ceiling, reset on a period
// boundary. Resets are explicit: callers observe IsResetDue and invoke
// Reset; reads never mutate the quota.
type UsageQuota struct {
	ID                snowflake.ID   `json:"id"`
	CustomerID        string         `json:"customer_id"`
	Metric            Metric         `json:"metric"`
	Category          Category       `json:"category,omitempty"`
	ResourceType      string         `json:"resource_type,omitempty"`
	AllocatedQuantity float64        `json:"allocated_quantity"`
	UsedQuantity      float64        `json:"used_quantity"`
	Period            Period         `json:"period"`
	ResetAt           time.Time      `json:"reset_at"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the invariants a quota must satisfy before storage.
func (q *UsageQuota) Validate() error {
	if q.CustomerID == "" {
		return ErrInvalidCustomer
	}
	if !q.Metric.Valid() {
		return ErrInvalidMetric
	}
	if q.Category != "" && !q.Category.Valid() {
		return ErrInvalidCategory
	}
	if q.AllocatedQuantity < 0 || q.UsedQuantity < 0 {
		return ErrInvalidQuantity
	}
	if !q.Period.Valid() {
		return ErrInvalidPeriod
	}
	return nil
}

// Matches reports whether the quota applies to the given usage
// dimensions. Empty category/resource type act as wildcards.
func (q *UsageQuota) Matches(metric Metric, category Category, resourceType string) bool {
	if q.Metric != metric {
		return false
	}
	if q.Category != "" && q.Category != category {
		return false
	}
	if q.ResourceType != "" && q.ResourceType != resourceType {
		return false
	}
	return true
}

// AddUsage adds consumption to the quota. Negative quantities are
// rejected; exceeding the allocation is not an error, callers decide
// policy from IsExceeded.
func (q *UsageQuota) AddUsage(quantity float64, now time.Time) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	q.UsedQuantity += quantity
	q.UpdatedAt = now.UTC()
	return nil
}

// Remaining returns the unconsumed allocation, never negative.
func (q *UsageQuota) Remaining() float64 {
	remaining := q.AllocatedQuantity - q.UsedQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercentage returns consumption as a percentage of the allocation.
// A zero allocation with any usage reads as 100%.
func (q *UsageQuota) UsagePercentage() float64 {
	if q.AllocatedQuantity <= 0 {
		if q.UsedQuantity > 0 {
			return 100
		}
		return 0
	}
	return q.UsedQuantity / q.AllocatedQuantity * 100
}

// IsExceeded reports whether consumption has reached the allocation.
func (q *UsageQuota) IsExceeded() bool {
	return q.UsedQuantity >= q.AllocatedQuantity
}

// IsNearLimit reports whether consumption has reached the given
// percentage threshold without exceeding the allocation.
func (q *UsageQuota) IsNearLimit(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultNearLimitThreshold
	}
	return !q.IsExceeded() && q.UsagePercentage() >= threshold
}

// WouldExceed reports whether adding quantity would push the quota past
// its allocation.
func (q *UsageQuota) WouldExceed(quantity float64) bool {
	return q.UsedQuantity+quantity > q.AllocatedQuantity
}

// IsResetDue reports whether the quota's reset timestamp has passed.
func (q *UsageQuota) IsResetDue(now time.Time) bool {
	return !now.UTC().Before(q.ResetAt)
}

// Reset zeroes consumption and advances ResetAt to the end of the period
// containing now.
func (q *UsageQuota) Reset(now time.Time) {
	now = now.UTC()
	q.UsedQuantity = 0
	q.ResetAt = q.Period.End(now)
	q.UpdatedAt = now
}
