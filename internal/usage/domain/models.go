// Package domain contains the metering entities: usage records, limits
// and quotas.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Metric is the unit of measure being billed.
type Metric string

const (
	MetricAPICall     Metric = "api_call"
	MetricToken       Metric = "token"
	MetricStorage     Metric = "storage"
	MetricBandwidth   Metric = "bandwidth"
	MetricComputeTime Metric = "compute_time"
	MetricCredit      Metric = "credit"
	MetricCustom      Metric = "custom"
)

// Valid reports whether the metric is a known value.
func (m Metric) Valid() bool {
	switch m {
	case MetricAPICall, MetricToken, MetricStorage, MetricBandwidth,
		MetricComputeTime, MetricCredit, MetricCustom:
		return true
	}
	return false
}

// ParseMetric normalizes and validates a metric string.
func ParseMetric(raw string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", ErrInvalidMetric
	}
	return m, nil
}

// Category is the usage context a record belongs to.
type Category string

const (
	CategoryInference Category = "inference"
	CategoryTraining  Category = "training"
	CategoryEmbedding Category = "embedding"
	CategoryStorage   Category = "storage"
	CategoryNetwork   Category = "network"
	CategoryOther     Category = "other"
)

// Valid reports whether the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryInference, CategoryTraining, CategoryEmbedding,
		CategoryStorage, CategoryNetwork, CategoryOther:
		return true
	}
	return false
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// UsageRecord stores a single unit of metered activity. Records are
// written once and never mutated; deletion is an explicit administrative
// operation.
type UsageRecord struct {
	ID             snowflake.ID   `json:"id"`
	CustomerID     string         `json:"customer_id"`
	Metric         Metric         `json:"metric"`
	Quantity       float64        `json:"quantity"`
	Category       Category       `json:"category"`
	Timestamp      time.Time      `json:"timestamp"`
	ResourceID     string         `json:"resource_id,omitempty"`
	ResourceType   string         `json:"resource_type,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Validate checks the invariants a record must satisfy before storage.
func (r *UsageRecord) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return ErrInvalidCustomer
	}
	if !r.Metric.Valid() {
		return ErrInvalidMetric
	}
	if !r.Category.Valid() {
		return ErrInvalidCategory
	}
	if r.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}
