package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageLimit is a customer-scoped ceiling for a metric over a recurring
// period. MaxQuantity and Metadata may be updated; everything else is
// fixed at creation.
type UsageLimit struct {
	ID           snowflake.ID   `json:"id"`
	CustomerID   string         `json:"customer_id"`
	Metric       Metric         `json:"metric"`
	Category     Category       `json:"category,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	MaxQuantity  float64        `json:"max_quantity"`
	Period       Period         `json:"period"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Validate checks the invariants a limit must satisfy before storage.
func (l *UsageLimit) Validate() error {
	if l.CustomerID == "" {
		return ErrInvalidCustomer
	}
	if !l.Metric.Valid() {
		return ErrInvalidMetric
	}
	if l.Category != "" && !l.Category.Valid() {
		return ErrInvalidCategory
	}
	if l.MaxQuantity < 0 {
		return ErrInvalidQuantity
	}
	if !l.Period.Valid() {
		return ErrInvalidPeriod
	}
	return nil
}

// Matches reports whether the limit applies to the given usage
// dimensions. Empty category/resource type on the limit act as
// wildcards.
func (l *UsageLimit) Matches(metric Metric, category Category, resourceType string) bool {
	if l.Metric != metric {
		return false
	}
	if l.Category != "" && l.Category != category {
		return false
	}
	if l.ResourceType != "" && l.ResourceType != resourceType {
		return false
	}
	return true
}

// PeriodStart returns the start of the limit's period containing ref.
func (l *UsageLimit) PeriodStart(ref time.Time) time.Time {
	return l.Period.Start(ref)
}

// PeriodEnd returns the exclusive end of the limit's period containing ref.
func (l *UsageLimit) PeriodEnd(ref time.Time) time.Time {
	return l.Period.End(ref)
}
