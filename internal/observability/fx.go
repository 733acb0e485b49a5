package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/observability/logger"
	"github.com/smallbiznis/metering/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) (*zap.Logger, error) {
		return logger.New(logger.Config{
			ServiceName:         cfg.AppName,
			Environment:         cfg.Environment,
			Version:             cfg.AppVersion,
			IncludeCaller:       true,
			IncludeStackOnError: true,
		})
	}),
	fx.Provide(prometheus.NewRegistry),
	fx.Provide(metrics.New),
)
