package service

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/config"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
)

// RulesFromConfig converts the pricing config file into domain rules.
// Custom-model rules cannot be declared in config.
func RulesFromConfig(genID *snowflake.Node, cfg config.PricingConfig) ([]*pricingdomain.PricingRule, error) {
	rules := make([]*pricingdomain.PricingRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		metric, err := usagedomain.ParseMetric(rc.Metric)
		if err != nil {
			return nil, err
		}
		model, err := pricingdomain.ParseModel(rc.Model)
		if err != nil {
			return nil, err
		}

		var category usagedomain.Category
		if rc.Category != "" {
			category, err = usagedomain.ParseCategory(rc.Category)
			if err != nil {
				return nil, err
			}
		}

		rule := &pricingdomain.PricingRule{
			ID:           genID.Generate(),
			Metric:       metric,
			Model:        model,
			Category:     category,
			ResourceType: rc.ResourceType,
			PricePerUnit: rc.PricePerUnit,
			FlatFee:      rc.FlatFee,
			MinimumCost:  rc.MinimumCost,
			MaximumCost:  rc.MaximumCost,
		}
		for _, tc := range rc.Tiers {
			rule.Tiers = append(rule.Tiers, pricingdomain.PricingTier{
				MinQuantity:  tc.MinQuantity,
				MaxQuantity:  tc.MaxQuantity,
				PricePerUnit: tc.PricePerUnit,
				FlatFee:      tc.FlatFee,
			})
		}
		if rc.Package != nil {
			rule.Package = &pricingdomain.PricingPackage{
				Quantity:     rc.Package.Quantity,
				Price:        rc.Package.Price,
				OveragePrice: rc.Package.OveragePrice,
			}
		}
		for _, dc := range rc.Discounts {
			rule.Discounts = append(rule.Discounts, pricingdomain.VolumeDiscount{
				MinQuantity:        dc.MinQuantity,
				DiscountPercentage: dc.DiscountPercentage,
			})
		}

		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
