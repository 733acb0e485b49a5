package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/metering/internal/clock"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredCost_AppliesBestVolumeDiscount(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 1.0,
		Discounts: []pricingdomain.VolumeDiscount{
			{MinQuantity: 100, DiscountPercentage: 10},
			{MinQuantity: 500, DiscountPercentage: 20},
		},
	})

	// Below every discount threshold: undiscounted.
	cost, err := calc.TieredCost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 50})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cost, 1e-9)

	// Qualifies for the 10% tier only.
	cost, err = calc.TieredCost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 150})
	require.NoError(t, err)
	assert.InDelta(t, 135.0, cost, 1e-9)

	// The highest qualifying threshold wins.
	cost, err = calc.TieredCost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 600})
	require.NoError(t, err)
	assert.InDelta(t, 480.0, cost, 1e-9)
}

func TestTieredCostBreakdown_TieredSingleLine(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric: usagedomain.MetricToken,
		Model:  pricingdomain.ModelTiered,
		Tiers: []pricingdomain.PricingTier{
			{MinQuantity: 0, MaxQuantity: floatPtr(1000), PricePerUnit: 0.10, FlatFee: 5},
			{MinQuantity: 1000, PricePerUnit: 0.08, FlatFee: 10},
		},
	})

	breakdown, err := calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: 1500})
	require.NoError(t, err)
	require.Len(t, breakdown.Lines, 1)
	assert.InDelta(t, 1500.0, breakdown.Lines[0].Quantity, 1e-9)
	// Whole quantity priced at the containing tier, plus its flat fee.
	assert.InDelta(t, 1500*0.08+10, breakdown.Lines[0].Cost, 1e-9)
	assert.InDelta(t, breakdown.Lines[0].Cost, breakdown.Total, 1e-9)
}

func TestTieredCostBreakdown_GraduatedPerBandLines(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric: usagedomain.MetricToken,
		Model:  pricingdomain.ModelGraduated,
		Tiers: []pricingdomain.PricingTier{
			{MinQuantity: 0, MaxQuantity: floatPtr(1000), PricePerUnit: 0.10},
			{MinQuantity: 1000, MaxQuantity: floatPtr(5000), PricePerUnit: 0.08},
			{MinQuantity: 5000, PricePerUnit: 0.05},
		},
	})

	breakdown, err := calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: 1500})
	require.NoError(t, err)
	// The third band has no portion and must not produce a line.
	require.Len(t, breakdown.Lines, 2)
	assert.InDelta(t, 1000.0, breakdown.Lines[0].Quantity, 1e-9)
	assert.InDelta(t, 100.0, breakdown.Lines[0].Cost, 1e-9)
	assert.InDelta(t, 500.0, breakdown.Lines[1].Quantity, 1e-9)
	assert.InDelta(t, 40.0, breakdown.Lines[1].Cost, 1e-9)
	assert.InDelta(t, 140.0, breakdown.Subtotal, 1e-9)
	assert.InDelta(t, 140.0, breakdown.Total, 1e-9)
}

func TestTieredCostBreakdown_ClampAfterDiscount(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 1.0,
		MinimumCost:  200,
		Discounts: []pricingdomain.VolumeDiscount{
			{MinQuantity: 100, DiscountPercentage: 50},
		},
	})

	// 300 * 1.0 = 300, minus 50% = 150, floored back to the 200 minimum.
	breakdown, err := calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 300})
	require.NoError(t, err)
	assert.InDelta(t, 300.0, breakdown.Subtotal, 1e-9)
	assert.InDelta(t, 150.0, breakdown.DiscountAmount, 1e-9)
	assert.InDelta(t, 200.0, breakdown.Total, 1e-9)
}

func TestTieredCostBreakdown_Errors(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric: usagedomain.MetricToken,
		Model:  pricingdomain.ModelTiered,
		Tiers: []pricingdomain.PricingTier{
			{MinQuantity: 0, MaxQuantity: floatPtr(100), PricePerUnit: 0.10},
			{MinQuantity: 500, PricePerUnit: 0.05},
		},
	})

	_, err := calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: 250})
	assert.ErrorIs(t, err, pricingdomain.ErrNoTierForQuantity)

	_, err = calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: -1})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidQuantity)

	_, err = calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricStorage, Quantity: 10})
	assert.ErrorIs(t, err, pricingdomain.ErrNoMatchingRule)
}

func TestTieredCostBreakdown_DiscountAppliesBeforeMaximumCap(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 1.0,
		MaximumCost:  floatPtr(100),
		Discounts: []pricingdomain.VolumeDiscount{
			{MinQuantity: 100, DiscountPercentage: 10},
		},
	})

	// The discount takes 10% of the raw 200, not of the capped 100;
	// the cap then bounds the discounted total.
	breakdown, err := calc.TieredCostBreakdown(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 200})
	require.NoError(t, err)
	assert.InDelta(t, 200.0, breakdown.Subtotal, 1e-9)
	assert.InDelta(t, 20.0, breakdown.DiscountAmount, 1e-9)
	assert.InDelta(t, 100.0, breakdown.Total, 1e-9)

	// The plain cost path still clamps.
	cost, err := calc.Cost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricAPICall, Quantity: 200})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, cost, 1e-9)
}
