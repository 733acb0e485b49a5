package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidMetric    = errors.New("invalid_metric")
	ErrInvalidCategory  = errors.New("invalid_category")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidInterval  = errors.New("invalid_interval")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrRecordNotFound   = errors.New("record_not_found")
	ErrLimitNotFound    = errors.New("limit_not_found")
	ErrQuotaNotFound    = errors.New("quota_not_found")
)

// TrackRequest records one unit of metered activity.
type TrackRequest struct {
	CustomerID     string         `json:"customer_id"`
	Metric         string         `json:"metric"`
	Quantity       float64        `json:"quantity"`
	Category       string         `json:"category"`
	ResourceID     string         `json:"resource_id"`
	ResourceType   string         `json:"resource_type"`
	SubscriptionID string         `json:"subscription_id"`
	Metadata       map[string]any `json:"metadata"`

	// SkipQuota bypasses quota enforcement for this write.
	SkipQuota bool `json:"skip_quota"`
}

// TrackResult is the outcome of a tracked usage event. Quota is nil when
// no quota matched the event's dimensions.
type TrackResult struct {
	Record        *UsageRecord `json:"record"`
	Quota         *UsageQuota  `json:"quota,omitempty"`
	QuotaExceeded bool         `json:"quota_exceeded"`

	// QuotaNearLimit reports consumption at or past the configured
	// near-limit percentage without being exceeded.
	QuotaNearLimit bool `json:"quota_near_limit"`
}

// CheckRequest is a read-only pre-check of a prospective usage event.
type CheckRequest struct {
	CustomerID   string  `json:"customer_id"`
	Metric       string  `json:"metric"`
	Quantity     float64 `json:"quantity"`
	Category     string  `json:"category"`
	ResourceType string  `json:"resource_type"`
}

// CheckResult reports whether the usage would be allowed. Reason is set
// only when Allowed is false.
type CheckResult struct {
	Allowed   bool        `json:"allowed"`
	Reason    string      `json:"reason,omitempty"`
	Quota     *UsageQuota `json:"quota,omitempty"`
	NearLimit bool        `json:"near_limit,omitempty"`
}

// GroupBy selects the dimension a summary is grouped on.
type GroupBy string

const (
	GroupByMetric       GroupBy = "metric"
	GroupByCategory     GroupBy = "category"
	GroupByResourceType GroupBy = "resource_type"
)

// SummaryRequest filters and groups usage records. Zero Start/End mean
// an unbounded range; empty Metric/Category match everything.
type SummaryRequest struct {
	CustomerID string    `json:"customer_id"`
	Metric     Metric    `json:"metric,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
	GroupBy    GroupBy   `json:"group_by"`
}

// SummaryGroup aggregates the records sharing one group key.
type SummaryGroup struct {
	Quantity  float64  `json:"quantity"`
	Count     int      `json:"count"`
	RecordIDs []string `json:"record_ids"`
}

// Summary is an aggregate view over filtered usage records.
type Summary struct {
	CustomerID    string                  `json:"customer_id"`
	Start         time.Time               `json:"start_time"`
	End           time.Time               `json:"end_time"`
	TotalQuantity float64                 `json:"total_quantity"`
	RecordCount   int                     `json:"record_count"`
	Groups        map[string]SummaryGroup `json:"groups"`
}

// Interval is the bucket size for time-series aggregation.
type Interval string

const (
	IntervalHour  Interval = "hour"
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// Valid reports whether the interval is a known value.
func (i Interval) Valid() bool {
	switch i {
	case IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
		return true
	}
	return false
}

// SeriesRequest buckets usage over a time range.
type SeriesRequest struct {
	CustomerID string    `json:"customer_id"`
	Metric     Metric    `json:"metric,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
	Interval   Interval  `json:"interval"`
}

// SeriesBucket is one fixed-size interval of the series. Gaps in the
// underlying data appear as zero-quantity buckets.
type SeriesBucket struct {
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
	Quantity float64   `json:"quantity"`
	Count    int       `json:"count"`
}

// Series is a zero-filled time series of usage quantities.
type Series struct {
	CustomerID string         `json:"customer_id"`
	Interval   Interval       `json:"interval"`
	Buckets    []SeriesBucket `json:"buckets"`
}

// TrendDirection classifies how usage moved across the requested range.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trends compares the average quantity of the first and second half of
// the bucketed series.
type Trends struct {
	Series           Series         `json:"series"`
	FirstHalfAvg     float64        `json:"first_half_avg"`
	SecondHalfAvg    float64        `json:"second_half_avg"`
	ChangePercentage float64        `json:"change_percentage"`
	Direction        TrendDirection `json:"direction"`
}

// CreateLimitRequest declares a new usage ceiling.
type CreateLimitRequest struct {
	CustomerID   string         `json:"customer_id"`
	Metric       string         `json:"metric"`
	Category     string         `json:"category"`
	ResourceType string         `json:"resource_type"`
	MaxQuantity  float64        `json:"max_quantity"`
	Period       string         `json:"period"`
	Metadata     map[string]any `json:"metadata"`
}

// UpdateLimitRequest mutates the updatable fields of a limit.
type UpdateLimitRequest struct {
	ID          string         `json:"id"`
	MaxQuantity *float64       `json:"max_quantity,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateQuotaRequest declares a new enforcement quota.
type CreateQuotaRequest struct {
	CustomerID        string         `json:"customer_id"`
	Metric            string         `json:"metric"`
	Category          string         `json:"category"`
	ResourceType      string         `json:"resource_type"`
	AllocatedQuantity float64        `json:"allocated_quantity"`
	Period            string         `json:"period"`
	Metadata          map[string]any `json:"metadata"`
}

// Tracker owns usage records, limits and quotas, and enforces quotas at
// write time.
type Tracker interface {
	Track(ctx context.Context, req TrackRequest) (*TrackResult, error)
	CheckAllowed(ctx context.Context, req CheckRequest) (*CheckResult, error)

	Record(ctx context.Context, id string) (*UsageRecord, error)
	DeleteRecord(ctx context.Context, id string) error

	Summary(ctx context.Context, req SummaryRequest) (*Summary, error)
	UsageByTime(ctx context.Context, req SeriesRequest) (*Series, error)
	Trends(ctx context.Context, req SeriesRequest) (*Trends, error)

	CreateLimit(ctx context.Context, req CreateLimitRequest) (*UsageLimit, error)
	UpdateLimit(ctx context.Context, req UpdateLimitRequest) (*UsageLimit, error)
	DeleteLimit(ctx context.Context, id string) error
	CustomerLimits(ctx context.Context, customerID string) ([]*UsageLimit, error)

	CreateQuota(ctx context.Context, req CreateQuotaRequest) (*UsageQuota, error)
	DeleteQuota(ctx context.Context, id string) error
	CustomerQuotas(ctx context.Context, customerID string) ([]*UsageQuota, error)

	// MaybeResetQuotas resets every quota whose reset timestamp has
	// passed and returns how many were reset. The scheduler calls this
	// periodically; Track and CheckAllowed call it for the quotas they
	// touch.
	MaybeResetQuotas(ctx context.Context, now time.Time) (int, error)
}
