package service

import (
	"context"

	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
)

// TieredService layers volume discounts and itemized tier traces on top
// of the base calculator.
type TieredService struct {
	*Service
}

func NewTieredService(base *Service) *TieredService {
	return &TieredService{Service: base}
}

// TieredCost prices a quantity, applies the best qualifying volume
// discount to the subtotal, then re-applies the rule's clamps.
func (s *TieredService) TieredCost(ctx context.Context, req pricingdomain.CostRequest) (float64, error) {
	breakdown, err := s.TieredCostBreakdown(ctx, req)
	if err != nil {
		return 0, err
	}
	return breakdown.Total, nil
}

// TieredCostBreakdown exposes the tiered computation as an itemized
// per-tier trace plus the discount applied.
func (s *TieredService) TieredCostBreakdown(ctx context.Context, req pricingdomain.CostRequest) (*pricingdomain.TieredBreakdown, error) {
	if req.Quantity < 0 {
		return nil, pricingdomain.ErrInvalidQuantity
	}

	rule, err := s.RuleFor(ctx, req.Metric, req.Category, req.ResourceType)
	if err != nil {
		return nil, err
	}

	breakdown := &pricingdomain.TieredBreakdown{
		Metric:   req.Metric,
		Quantity: req.Quantity,
		Model:    rule.Model,
	}

	switch rule.Model {
	case pricingdomain.ModelTiered:
		tier, ok := containingTier(rule, req.Quantity)
		if !ok {
			return nil, pricingdomain.ErrNoTierForQuantity
		}
		line := pricingdomain.TierLine{
			Tier:     tier,
			Quantity: req.Quantity,
			Cost:     req.Quantity*tier.PricePerUnit + tier.FlatFee,
		}
		breakdown.Lines = append(breakdown.Lines, line)
		breakdown.Subtotal = line.Cost
	case pricingdomain.ModelGraduated:
		for _, tier := range rule.Tiers {
			portion := tier.QuantityInTier(req.Quantity)
			if portion <= 0 {
				continue
			}
			line := pricingdomain.TierLine{
				Tier:     tier,
				Quantity: portion,
				Cost:     portion * tier.PricePerUnit,
			}
			breakdown.Lines = append(breakdown.Lines, line)
			breakdown.Subtotal += line.Cost
		}
	default:
		// Non-tiered rules fall back to the plain model computation.
		// The subtotal stays unclamped so the discount applies to the
		// raw cost, matching the tiered and graduated branches; the
		// clamps are applied once at the end.
		subtotal, err := rule.ModelCost(req.Context, req.Quantity)
		if err != nil {
			return nil, err
		}
		breakdown.Subtotal = subtotal
	}

	total := breakdown.Subtotal
	if discount, ok := rule.BestDiscount(req.Quantity); ok {
		breakdown.DiscountPercentage = discount.DiscountPercentage
		breakdown.DiscountAmount = total * discount.DiscountPercentage / 100
		total -= breakdown.DiscountAmount
	}
	breakdown.Total = rule.Clamp(total)
	return breakdown, nil
}

func containingTier(rule *pricingdomain.PricingRule, quantity float64) (pricingdomain.PricingTier, bool) {
	for _, tier := range rule.Tiers {
		if tier.Contains(quantity) {
			return tier, true
		}
	}
	return pricingdomain.PricingTier{}, false
}
