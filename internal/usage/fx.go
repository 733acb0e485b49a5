package usage

import (
	"github.com/smallbiznis/metering/internal/usage/repository"
	"github.com/smallbiznis/metering/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.NewStores),
	fx.Provide(service.NewService),
)
