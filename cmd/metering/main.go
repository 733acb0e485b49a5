package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metering/internal/billing"
	"github.com/smallbiznis/metering/internal/clock"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/invoice"
	"github.com/smallbiznis/metering/internal/observability"
	"github.com/smallbiznis/metering/internal/pricing"
	"github.com/smallbiznis/metering/internal/quota"
	"github.com/smallbiznis/metering/internal/scheduler"
	"github.com/smallbiznis/metering/internal/server"
	"github.com/smallbiznis/metering/internal/storage"
	"github.com/smallbiznis/metering/internal/usage"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		storage.Module,

		quota.Module,
		usage.Module,
		pricing.Module,
		invoice.Module,
		billing.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
