package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuota_AddUsageAndNearLimit(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	quota := &UsageQuota{
		CustomerID:        "cust_1",
		Metric:            MetricAPICall,
		AllocatedQuantity: 100,
		Period:            PeriodMonthly,
		ResetAt:           PeriodMonthly.End(now),
	}

	require.NoError(t, quota.AddUsage(60, now))
	assert.InDelta(t, 60.0, quota.UsagePercentage(), 1e-9)
	assert.False(t, quota.IsNearLimit(80))
	assert.False(t, quota.IsExceeded())

	require.NoError(t, quota.AddUsage(25, now))
	assert.InDelta(t, 85.0, quota.UsagePercentage(), 1e-9)
	assert.True(t, quota.IsNearLimit(80))
	assert.False(t, quota.IsExceeded())
	assert.InDelta(t, 15.0, quota.Remaining(), 1e-9)

	require.NoError(t, quota.AddUsage(20, now))
	assert.True(t, quota.IsExceeded())
	assert.False(t, quota.IsNearLimit(80))
	assert.Equal(t, 0.0, quota.Remaining())
}

func TestQuota_AddUsageRejectsNegative(t *testing.T) {
	quota := &UsageQuota{AllocatedQuantity: 10}
	assert.ErrorIs(t, quota.AddUsage(-1, time.Now()), ErrInvalidQuantity)
}

func TestQuota_WouldExceed(t *testing.T) {
	quota := &UsageQuota{AllocatedQuantity: 100, UsedQuantity: 90}
	assert.False(t, quota.WouldExceed(10))
	assert.True(t, quota.WouldExceed(10.5))
}

func TestQuota_ZeroAllocation(t *testing.T) {
	quota := &UsageQuota{AllocatedQuantity: 0}
	assert.Equal(t, 0.0, quota.UsagePercentage())

	quota.UsedQuantity = 1
	assert.Equal(t, 100.0, quota.UsagePercentage())
	assert.True(t, quota.IsExceeded())
}

func TestQuota_ResetAdvancesWindow(t *testing.T) {
	created := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	quota := &UsageQuota{
		CustomerID:        "cust_1",
		Metric:            MetricToken,
		AllocatedQuantity: 50,
		UsedQuantity:      42,
		Period:            PeriodMonthly,
		ResetAt:           PeriodMonthly.End(created),
	}

	assert.False(t, quota.IsResetDue(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)))

	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	require.True(t, quota.IsResetDue(now))

	quota.Reset(now)
	assert.Equal(t, 0.0, quota.UsedQuantity)
	assert.Equal(t, 0.0, quota.UsagePercentage())
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), quota.ResetAt)
	assert.False(t, quota.IsResetDue(now))
}

func TestQuota_MatchesWildcards(t *testing.T) {
	quota := &UsageQuota{Metric: MetricAPICall}
	assert.True(t, quota.Matches(MetricAPICall, CategoryInference, "gpt-4"))
	assert.False(t, quota.Matches(MetricToken, CategoryInference, "gpt-4"))

	quota.Category = CategoryInference
	assert.True(t, quota.Matches(MetricAPICall, CategoryInference, "anything"))
	assert.False(t, quota.Matches(MetricAPICall, CategoryTraining, "anything"))

	quota.ResourceType = "gpt-4"
	assert.True(t, quota.Matches(MetricAPICall, CategoryInference, "gpt-4"))
	assert.False(t, quota.Matches(MetricAPICall, CategoryInference, "gpt-3"))
}
