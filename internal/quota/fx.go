package quota

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/quota/domain"
	"github.com/smallbiznis/metering/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.guard",
	fx.Provide(domain.LoadFromEnv),
	fx.Provide(func(cfg config.Config) *redis.Client {
		if cfg.RedisAddr == "" {
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}),
	fx.Provide(service.NewService),
)
