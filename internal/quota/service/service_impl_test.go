package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metering/internal/clock"
	quotadomain "github.com/smallbiznis/metering/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGuard(t *testing.T, cfg *quotadomain.Config, clk clock.Clock) (quotadomain.Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewService(ServiceParam{
		Redis:  client,
		Log:    zap.NewNop(),
		Config: cfg,
		Clock:  clk,
	})
	return guard, mr
}

func TestAllowIngest_CapsMonthlyEvents(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	guard, mr := newTestGuard(t, &quotadomain.Config{Enabled: true, CustomerUsageMonthly: 3}, clk)

	for i := 0; i < 3; i++ {
		require.NoError(t, guard.AllowIngest(ctx, "cust_1"))
	}
	assert.ErrorIs(t, guard.AllowIngest(ctx, "cust_1"), quotadomain.ErrIngestCapExceeded)

	// Counters are per customer.
	require.NoError(t, guard.AllowIngest(ctx, "cust_2"))

	count, err := guard.MonthlyCount(ctx, "cust_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// The counter key expires on its own.
	assert.Greater(t, mr.TTL("ingest:cust_1:2026-08"), time.Duration(0))
}

func TestAllowIngest_NewMonthResetsCounter(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC))
	guard, _ := newTestGuard(t, &quotadomain.Config{Enabled: true, CustomerUsageMonthly: 1}, clk)

	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))
	assert.ErrorIs(t, guard.AllowIngest(ctx, "cust_1"), quotadomain.ErrIngestCapExceeded)

	// September opens a fresh key.
	clk.Set(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))

	count, err := guard.MonthlyCount(ctx, "cust_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGuard_Disabled(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	guard, _ := newTestGuard(t, &quotadomain.Config{Enabled: false, CustomerUsageMonthly: 1}, clk)

	// Disabled guard admits everything and reports no counts.
	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))
	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))

	_, err := guard.MonthlyCount(ctx, "cust_1")
	assert.ErrorIs(t, err, quotadomain.ErrGuardDisabled)
}

func TestGuard_NoRedisClient(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	guard := NewService(ServiceParam{
		Log:    zap.NewNop(),
		Config: &quotadomain.Config{Enabled: true, CustomerUsageMonthly: 1},
		Clock:  clk,
	})

	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))
	_, err := guard.MonthlyCount(ctx, "cust_1")
	assert.ErrorIs(t, err, quotadomain.ErrGuardDisabled)
}

func TestAllowIngest_FailsOpenOnBackendError(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	guard, mr := newTestGuard(t, &quotadomain.Config{Enabled: true, CustomerUsageMonthly: 1}, clk)

	mr.Close()
	require.NoError(t, guard.AllowIngest(ctx, "cust_1"))
}
