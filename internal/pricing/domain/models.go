// Package domain contains the pricing rule family: tiers, packages,
// volume discounts and the rules that bind them to usage metrics.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

// PricingModel selects how a rule turns quantity into cost.
type PricingModel string

const (
	ModelFlatRate  PricingModel = "flat_rate"
	ModelPerUnit   PricingModel = "per_unit"
	ModelTiered    PricingModel = "tiered"
	ModelGraduated PricingModel = "graduated"
	ModelPackage   PricingModel = "package"
	ModelCustom    PricingModel = "custom"
)

// Valid reports whether the model is a known value.
func (m PricingModel) Valid() bool {
	switch m {
	case ModelFlatRate, ModelPerUnit, ModelTiered, ModelGraduated,
		ModelPackage, ModelCustom:
		return true
	}
	return false
}

// ParseModel normalizes and validates a pricing model string.
func ParseModel(raw string) (PricingModel, error) {
	m := PricingModel(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", ErrUnsupportedModel
	}
	return m, nil
}

// PricingTier is a [MinQuantity, MaxQuantity) price band. A nil
// MaxQuantity means the band is unbounded above.
type PricingTier struct {
	MinQuantity  float64  `json:"min_quantity"`
	MaxQuantity  *float64 `json:"max_quantity,omitempty"`
	PricePerUnit float64  `json:"price_per_unit"`
	FlatFee      float64  `json:"flat_fee,omitempty"`
}

// Contains reports whether the entire quantity falls in this band.
func (t PricingTier) Contains(quantity float64) bool {
	if quantity < t.MinQuantity {
		return false
	}
	if t.MaxQuantity != nil && quantity >= *t.MaxQuantity {
		return false
	}
	return true
}

// QuantityInTier returns the portion of quantity inside the band, used
// by graduated pricing: 0 when quantity is at or below the band's start,
// otherwise the part between the band's bounds.
func (t PricingTier) QuantityInTier(quantity float64) float64 {
	if quantity <= t.MinQuantity {
		return 0
	}
	if t.MaxQuantity != nil && quantity > *t.MaxQuantity {
		return *t.MaxQuantity - t.MinQuantity
	}
	return quantity - t.MinQuantity
}

// PricingPackage is a bundle: a fixed price for up to Quantity units,
// with optional per-unit overage beyond it.
type PricingPackage struct {
	Quantity     float64  `json:"quantity"`
	Price        float64  `json:"price"`
	OveragePrice *float64 `json:"overage_price,omitempty"`
}

// Cost prices a quantity against the package.
func (p PricingPackage) Cost(quantity float64) float64 {
	if quantity <= p.Quantity {
		return p.Price
	}
	if p.OveragePrice == nil {
		return p.Price
	}
	return p.Price + (quantity-p.Quantity)**p.OveragePrice
}

// VolumeDiscount takes a percentage off the subtotal once quantity
// reaches MinQuantity.
type VolumeDiscount struct {
	MinQuantity        float64 `json:"min_quantity"`
	DiscountPercentage float64 `json:"discount_percentage"`
}

// PricingRule matches a (metric, category, resource type) tuple to one
// pricing model and computes cost for a quantity. Category and
// ResourceType are optional filters; unset means the rule applies to
// any value of that dimension.
type PricingRule struct {
	ID           snowflake.ID          `json:"id"`
	Metric       usagedomain.Metric    `json:"metric"`
	Model        PricingModel          `json:"model"`
	Category     usagedomain.Category  `json:"category,omitempty"`
	ResourceType string                `json:"resource_type,omitempty"`
	PricePerUnit float64               `json:"price_per_unit,omitempty"`
	FlatFee      float64               `json:"flat_fee,omitempty"`
	Tiers        []PricingTier         `json:"tiers,omitempty"`
	Package      *PricingPackage       `json:"package,omitempty"`
	Discounts    []VolumeDiscount      `json:"discounts,omitempty"`
	MinimumCost  float64               `json:"minimum_cost,omitempty"`
	MaximumCost  *float64              `json:"maximum_cost,omitempty"`
	Custom       *CustomCalculator     `json:"custom,omitempty"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Validate checks the rule carries the parameters its model needs.
func (r *PricingRule) Validate() error {
	if !r.Metric.Valid() {
		return ErrInvalidRule
	}
	if !r.Model.Valid() {
		return ErrUnsupportedModel
	}
	switch r.Model {
	case ModelTiered, ModelGraduated:
		if len(r.Tiers) == 0 {
			return ErrInvalidRule
		}
	case ModelPackage:
		if r.Package == nil {
			return ErrInvalidRule
		}
	case ModelCustom:
		if r.Custom == nil {
			return ErrInvalidRule
		}
	}
	return nil
}

// Matches reports whether the rule applies to the request dimensions.
func (r *PricingRule) Matches(metric usagedomain.Metric, category usagedomain.Category, resourceType string) bool {
	if r.Metric != metric {
		return false
	}
	if r.Category != "" && r.Category != category {
		return false
	}
	if r.ResourceType != "" && r.ResourceType != resourceType {
		return false
	}
	return true
}

// Specificity scores how precisely the rule targets the request: +1 for
// the metric, +1 for each optional filter that is set and equal.
func (r *PricingRule) Specificity(metric usagedomain.Metric, category usagedomain.Category, resourceType string) int {
	score := 0
	if r.Metric == metric {
		score++
	}
	if r.Category != "" && r.Category == category {
		score++
	}
	if r.ResourceType != "" && r.ResourceType == resourceType {
		score++
	}
	return score
}

// CalculateCost prices a quantity under the rule, clamps applied. It is
// a pure function of quantity, the rule's parameters and the calculation
// context.
func (r *PricingRule) CalculateCost(cctx CalcContext, quantity float64) (float64, error) {
	cost, err := r.ModelCost(cctx, quantity)
	if err != nil {
		return 0, err
	}
	return r.Clamp(cost), nil
}

// ModelCost prices a quantity under the rule's model without the min/max
// clamps, for callers that apply discounts before clamping.
func (r *PricingRule) ModelCost(cctx CalcContext, quantity float64) (float64, error) {
	if quantity < 0 {
		return 0, ErrInvalidQuantity
	}

	var cost float64
	switch r.Model {
	case ModelFlatRate:
		cost = r.FlatFee
	case ModelPerUnit:
		cost = quantity * r.PricePerUnit
	case ModelTiered:
		tier, ok := r.tierContaining(quantity)
		if !ok {
			// A tier table with holes silently undercharges; surface it
			// as a configuration error instead.
			return 0, ErrNoTierForQuantity
		}
		cost = quantity*tier.PricePerUnit + tier.FlatFee
	case ModelGraduated:
		for _, tier := range r.Tiers {
			cost += tier.QuantityInTier(quantity) * tier.PricePerUnit
		}
	case ModelPackage:
		if r.Package == nil {
			return 0, ErrInvalidRule
		}
		cost = r.Package.Cost(quantity)
	case ModelCustom:
		if r.Custom == nil {
			return 0, ErrInvalidRule
		}
		var err error
		cost, err = r.Custom.Cost(cctx, quantity)
		if err != nil {
			return 0, err
		}
	default:
		return 0, ErrUnsupportedModel
	}

	return cost, nil
}

// Clamp applies the rule's minimum and maximum cost bounds.
func (r *PricingRule) Clamp(cost float64) float64 {
	if cost < r.MinimumCost {
		cost = r.MinimumCost
	}
	if r.MaximumCost != nil && cost > *r.MaximumCost {
		cost = *r.MaximumCost
	}
	return cost
}

func (r *PricingRule) tierContaining(quantity float64) (PricingTier, bool) {
	for _, tier := range r.Tiers {
		if tier.Contains(quantity) {
			return tier, true
		}
	}
	return PricingTier{}, false
}

// BestDiscount returns the qualifying volume discount with the highest
// threshold, if any.
func (r *PricingRule) BestDiscount(quantity float64) (VolumeDiscount, bool) {
	var best VolumeDiscount
	found := false
	for _, discount := range r.Discounts {
		if quantity < discount.MinQuantity {
			continue
		}
		if !found || discount.MinQuantity > best.MinQuantity {
			best = discount
			found = true
		}
	}
	return best, found
}
