package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metering/internal/clock"
	quotadomain "github.com/smallbiznis/metering/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
	Config *quotadomain.Config
	Clock  clock.Clock
}

type service struct {
	redis *redis.Client
	log   *zap.Logger
	cfg   *quotadomain.Config
	clk   clock.Clock
}

func NewService(p ServiceParam) quotadomain.Guard {
	return &service{
		redis: p.Redis,
		log:   p.Log.Named("quota.guard"),
		cfg:   p.Config,
		clk:   p.Clock,
	}
}

func (s *service) AllowIngest(ctx context.Context, customerID string) error {
	if !s.cfg.Enabled || s.redis == nil {
		return nil
	}

	// Key: ingest:{customer_id}:{month_year} e.g. ingest:cust_1:2026-08
	key := s.monthKey(customerID)

	val, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.log.Error("failed to increment ingest counter", zap.Error(err))
		// Fail open to avoid blocking ingestion on redis error
		return nil
	}

	// Set expiration if new key (35 days to be safe)
	if val == 1 {
		s.redis.Expire(ctx, key, 35*24*time.Hour)
	}

	if val > int64(s.cfg.CustomerUsageMonthly) {
		return quotadomain.ErrIngestCapExceeded
	}

	return nil
}

func (s *service) MonthlyCount(ctx context.Context, customerID string) (int64, error) {
	if !s.cfg.Enabled || s.redis == nil {
		return 0, quotadomain.ErrGuardDisabled
	}

	val, err := s.redis.Get(ctx, s.monthKey(customerID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (s *service) monthKey(customerID string) string {
	return fmt.Sprintf("ingest:%s:%s", customerID, s.clk.Now().Format("2006-01"))
}
