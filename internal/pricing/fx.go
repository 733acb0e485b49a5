package pricing

import (
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	"github.com/smallbiznis/metering/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(service.NewService),
	fx.Provide(service.NewTieredService),
	fx.Provide(func(s *service.TieredService) pricingdomain.Calculator { return s }),
	fx.Provide(func(s *service.TieredService) pricingdomain.TieredCalculator { return s }),
)
