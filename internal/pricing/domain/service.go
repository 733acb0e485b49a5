package domain

import (
	"context"
	"errors"
	"time"

	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

var (
	ErrInvalidRule       = errors.New("invalid_rule")
	ErrUnsupportedModel  = errors.New("unsupported_pricing_model")
	ErrNoMatchingRule    = errors.New("no_matching_rule")
	ErrNoTierForQuantity = errors.New("no_tier_for_quantity")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidCondition  = errors.New("invalid_condition")
	ErrInvalidFormula    = errors.New("invalid_formula")
	ErrInvalidEstimate   = errors.New("invalid_estimate")
)

// UsageReader is the narrow view of the usage tracker the calculator
// consumes: period summaries and record lookups, nothing else.
type UsageReader interface {
	Summary(ctx context.Context, req usagedomain.SummaryRequest) (*usagedomain.Summary, error)
	Record(ctx context.Context, id string) (*usagedomain.UsageRecord, error)
}

// CostRequest asks for the cost of a quantity of one metric.
type CostRequest struct {
	Metric       usagedomain.Metric   `json:"metric"`
	Quantity     float64              `json:"quantity"`
	Category     usagedomain.Category `json:"category,omitempty"`
	ResourceType string               `json:"resource_type,omitempty"`
	Context      CalcContext          `json:"context,omitempty"`
}

// CostItem is one (metric, category, resource type) group of a usage
// cost breakdown. Cost is computed from the group's aggregated quantity
// so tier boundaries see the whole group.
type CostItem struct {
	Metric       usagedomain.Metric   `json:"metric"`
	Category     usagedomain.Category `json:"category"`
	ResourceType string               `json:"resource_type,omitempty"`
	Quantity     float64              `json:"quantity"`
	Cost         float64              `json:"cost"`
	RecordIDs    []string             `json:"records"`
}

// CostBreakdown is the structured result of costing a usage period.
// Every usage record in the period appears in exactly one item.
type CostBreakdown struct {
	CustomerID string     `json:"customer_id"`
	Start      time.Time  `json:"start_time"`
	End        time.Time  `json:"end_time"`
	TotalCost  float64    `json:"total_cost"`
	Items      []CostItem `json:"items"`
}

// Estimates maps metric → category → projected quantity for what-if
// costing that never touches the tracker.
type Estimates map[usagedomain.Metric]map[usagedomain.Category]float64

// EstimateItem is one projected line of an estimate.
type EstimateItem struct {
	Metric   usagedomain.Metric   `json:"metric"`
	Category usagedomain.Category `json:"category"`
	Quantity float64              `json:"quantity"`
	Cost     float64              `json:"cost"`
}

// Estimate is the costed projection for a set of usage estimates.
type Estimate struct {
	TotalCost float64        `json:"total_cost"`
	Items     []EstimateItem `json:"items"`
}

// TierLine is one band of an itemized tiered cost trace.
type TierLine struct {
	Tier     PricingTier `json:"tier"`
	Quantity float64     `json:"quantity"`
	Cost     float64     `json:"cost"`
}

// TieredBreakdown is the itemized computation trace of a tiered or
// graduated price, for UI and report use.
type TieredBreakdown struct {
	Metric             usagedomain.Metric `json:"metric"`
	Quantity           float64            `json:"quantity"`
	Model              PricingModel       `json:"model"`
	Lines              []TierLine         `json:"lines"`
	Subtotal           float64            `json:"subtotal"`
	DiscountPercentage float64            `json:"discount_percentage,omitempty"`
	DiscountAmount     float64            `json:"discount_amount,omitempty"`
	Total              float64            `json:"total"`
}

// Calculator resolves pricing rules and computes costs.
type Calculator interface {
	// AddRule registers a rule and invalidates the lookup and cost
	// caches.
	AddRule(ctx context.Context, rule *PricingRule) error

	// ReloadRules re-reads the config-sourced rules, keeping rules
	// added at runtime.
	ReloadRules(ctx context.Context) error

	// Rules returns the registered rules in insertion order.
	Rules(ctx context.Context) []*PricingRule

	// RuleFor resolves the best-matching rule by specificity; ties keep
	// the first rule found.
	RuleFor(ctx context.Context, metric usagedomain.Metric, category usagedomain.Category, resourceType string) (*PricingRule, error)

	// Cost prices a quantity under the best-matching rule.
	Cost(ctx context.Context, req CostRequest) (float64, error)

	// UsageCost prices a customer's usage over a period, grouped so
	// every record lands in exactly one item.
	UsageCost(ctx context.Context, customerID string, start, end time.Time) (*CostBreakdown, error)

	// EstimateCost prices projected quantities without reading usage.
	EstimateCost(ctx context.Context, estimates Estimates) (*Estimate, error)
}

// TieredCalculator adds volume discounts and itemized tier traces on
// top of Calculator.
type TieredCalculator interface {
	Calculator

	// TieredCost prices a quantity including the best qualifying volume
	// discount, re-applying the rule's clamps after the discount.
	TieredCost(ctx context.Context, req CostRequest) (float64, error)

	// TieredCostBreakdown exposes the same computation as an itemized
	// per-tier trace.
	TieredCostBreakdown(ctx context.Context, req CostRequest) (*TieredBreakdown, error)
}
