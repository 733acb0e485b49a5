package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	usagerepo "github.com/smallbiznis/metering/internal/usage/repository"
	usageservice "github.com/smallbiznis/metering/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func floatPtr(v float64) *float64 { return &v }

func newTestCalculator(t *testing.T, clk clock.Clock) (*TieredService, usagedomain.Tracker) {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	tracker := usageservice.NewService(usageservice.ServiceParam{
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Config: config.Config{NearLimitThreshold: 80},
		Stores: usagerepo.MemoryStores(),
	})

	base, err := NewService(ServiceParam{
		Log:     zap.NewNop(),
		GenID:   node,
		Config:  config.Config{RuleCacheTTL: time.Hour},
		Tracker: tracker,
	})
	require.NoError(t, err)
	return NewTieredService(base), tracker
}

func addRule(t *testing.T, calc *TieredService, rule *pricingdomain.PricingRule) {
	t.Helper()
	require.NoError(t, calc.AddRule(context.Background(), rule))
}

func TestRuleFor_SpecificityWins(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	generic := &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.10,
	}
	specific := &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		Category:     usagedomain.CategoryInference,
		PricePerUnit: 0.05,
	}
	addRule(t, calc, generic)
	addRule(t, calc, specific)

	rule, err := calc.RuleFor(ctx, usagedomain.MetricToken, usagedomain.CategoryInference, "")
	require.NoError(t, err)
	assert.Equal(t, specific.ID, rule.ID)

	rule, err = calc.RuleFor(ctx, usagedomain.MetricToken, usagedomain.CategoryTraining, "")
	require.NoError(t, err)
	assert.Equal(t, generic.ID, rule.ID)

	_, err = calc.RuleFor(ctx, usagedomain.MetricStorage, "", "")
	assert.ErrorIs(t, err, pricingdomain.ErrNoMatchingRule)
}

func TestRuleFor_TieKeepsFirstRule(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	first := &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.01,
	}
	second := &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.02,
	}
	addRule(t, calc, first)
	addRule(t, calc, second)

	rule, err := calc.RuleFor(ctx, usagedomain.MetricAPICall, "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, rule.ID)
}

func TestAddRule_InvalidatesCaches(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.10,
	})

	cost, err := calc.Cost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: 10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)

	// Repeat hits the cost cache and must agree.
	cost, err = calc.Cost(ctx, pricingdomain.CostRequest{Metric: usagedomain.MetricToken, Quantity: 10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)

	// A more specific rule added later must be visible immediately.
	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		Category:     usagedomain.CategoryOther,
		PricePerUnit: 0.20,
	})

	cost, err = calc.Cost(ctx, pricingdomain.CostRequest{
		Metric:   usagedomain.MetricToken,
		Quantity: 10,
		Category: usagedomain.CategoryOther,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cost, 1e-9)
}

func TestAddRule_Validates(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	err := calc.AddRule(context.Background(), &pricingdomain.PricingRule{
		Metric: usagedomain.MetricToken,
		Model:  pricingdomain.ModelTiered,
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)

	assert.ErrorIs(t, calc.AddRule(context.Background(), nil), pricingdomain.ErrInvalidRule)
}

func TestUsageCost_GroupsEveryRecordExactlyOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC))
	calc, tracker := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricAPICall,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.01,
	})
	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.001,
	})

	track := func(metric string, quantity float64, category, resourceType string) {
		_, err := tracker.Track(ctx, usagedomain.TrackRequest{
			CustomerID:   "cust_1",
			Metric:       metric,
			Quantity:     quantity,
			Category:     category,
			ResourceType: resourceType,
		})
		require.NoError(t, err)
	}
	track("api_call", 100, "inference", "gpt-4")
	track("api_call", 50, "inference", "gpt-4")
	track("api_call", 30, "training", "")
	track("token", 2000, "inference", "gpt-4")

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	breakdown, err := calc.UsageCost(ctx, "cust_1", start, end)
	require.NoError(t, err)

	// (api_call, inference, gpt-4), (api_call, training, ""), (token, inference, gpt-4)
	require.Len(t, breakdown.Items, 3)

	totalRecords := 0
	for _, item := range breakdown.Items {
		totalRecords += len(item.RecordIDs)
	}
	assert.Equal(t, 4, totalRecords)

	// Same-group quantities are aggregated before costing.
	assert.Equal(t, usagedomain.MetricAPICall, breakdown.Items[0].Metric)
	assert.InDelta(t, 150.0, breakdown.Items[0].Quantity, 1e-9)
	assert.InDelta(t, 1.5, breakdown.Items[0].Cost, 1e-9)

	assert.InDelta(t, 0.01*180+0.001*2000, breakdown.TotalCost, 1e-9)
}

func TestUsageCost_TierBoundarySeesAggregatedQuantity(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC))
	calc, tracker := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric: usagedomain.MetricAPICall,
		Model:  pricingdomain.ModelTiered,
		Tiers: []pricingdomain.PricingTier{
			{MinQuantity: 0, MaxQuantity: floatPtr(1000), PricePerUnit: 0.10},
			{MinQuantity: 1000, PricePerUnit: 0.08},
		},
	})

	// Two 600-unit records: individually tier one, 1200 in aggregate.
	for i := 0; i < 2; i++ {
		_, err := tracker.Track(ctx, usagedomain.TrackRequest{
			CustomerID: "cust_1",
			Metric:     "api_call",
			Quantity:   600,
		})
		require.NoError(t, err)
	}

	breakdown, err := calc.UsageCost(ctx, "cust_1",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, breakdown.Items, 1)
	assert.InDelta(t, 1200*0.08, breakdown.TotalCost, 1e-9)
}

func TestEstimateCost(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	calc, _ := newTestCalculator(t, clk)

	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:       usagedomain.MetricToken,
		Model:        pricingdomain.ModelPerUnit,
		PricePerUnit: 0.001,
	})
	addRule(t, calc, &pricingdomain.PricingRule{
		Metric:  usagedomain.MetricCredit,
		Model:   pricingdomain.ModelPackage,
		Package: &pricingdomain.PricingPackage{Quantity: 10, Price: 5, OveragePrice: floatPtr(0.5)},
	})

	estimate, err := calc.EstimateCost(ctx, pricingdomain.Estimates{
		usagedomain.MetricToken:  {usagedomain.CategoryInference: 10000},
		usagedomain.MetricCredit: {usagedomain.CategoryOther: 15},
	})
	require.NoError(t, err)
	require.Len(t, estimate.Items, 2)
	assert.InDelta(t, 10.0+7.5, estimate.TotalCost, 1e-9)

	_, err = calc.EstimateCost(ctx, nil)
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidEstimate)

	_, err = calc.EstimateCost(ctx, pricingdomain.Estimates{
		usagedomain.MetricToken: {usagedomain.CategoryInference: -1},
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidQuantity)
}
