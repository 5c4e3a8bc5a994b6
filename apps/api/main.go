package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/fulfillment"
	"github.com/simbridge/simbridge/internal/healthcheck"
	"github.com/simbridge/simbridge/internal/lock"
	"github.com/simbridge/simbridge/internal/logger"
	"github.com/simbridge/simbridge/internal/migration"
	"github.com/simbridge/simbridge/internal/notify"
	"github.com/simbridge/simbridge/internal/observability"
	"github.com/simbridge/simbridge/internal/order"
	"github.com/simbridge/simbridge/internal/provider"
	"github.com/simbridge/simbridge/internal/ratelimit"
	"github.com/simbridge/simbridge/internal/seed"
	"github.com/simbridge/simbridge/internal/server"
	"github.com/simbridge/simbridge/internal/webhook"
	"github.com/simbridge/simbridge/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,

		provider.Module,
		order.Module,
		lock.Module,
		notify.Module,
		fulfillment.Module,
		webhook.Module,
		healthcheck.Module,
		ratelimit.Module,

		server.Module,

		fx.Invoke(func(cfg config.Config, gdb *gorm.DB) error {
			if cfg.Environment == "production" {
				return nil
			}
			return seed.EnsureSandboxProvider(gdb)
		}),
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
