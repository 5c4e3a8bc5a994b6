package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/fulfillment"
	"github.com/simbridge/simbridge/internal/healthcheck"
	"github.com/simbridge/simbridge/internal/lock"
	"github.com/simbridge/simbridge/internal/logger"
	"github.com/simbridge/simbridge/internal/notify"
	"github.com/simbridge/simbridge/internal/observability"
	"github.com/simbridge/simbridge/internal/order"
	"github.com/simbridge/simbridge/internal/provider"
	"github.com/simbridge/simbridge/internal/webhook"
	"github.com/simbridge/simbridge/pkg/db"
	"go.uber.org/fx"
)

// The scheduler runs the periodic jobs: inbox drain, stale-order
// reconciliation and provider health probes. Every job is lease-guarded, so
// running it alongside extra replicas is safe.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,

		provider.Module,
		order.Module,
		lock.Module,
		notify.Module,
		fulfillment.Module,
		webhook.Module,
		healthcheck.Module,

		fulfillment.WorkerModule,
		webhook.WorkerModule,
		healthcheck.WorkerModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
