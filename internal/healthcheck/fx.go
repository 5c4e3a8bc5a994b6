package healthcheck

import (
	"context"

	"github.com/simbridge/simbridge/internal/config"
	"go.uber.org/fx"
)

func provideConfig(cfg config.Config) Config {
	return Config{
		PollInterval: cfg.HealthCheckInterval,
	}.withDefaults()
}

var Module = fx.Module("healthcheck",
	fx.Provide(provideConfig),
	fx.Provide(NewChecker),
)

// WorkerModule runs the probe loop; scheduler binaries include it.
var WorkerModule = fx.Module("healthcheck.worker",
	fx.Invoke(runChecker),
)

func runChecker(lc fx.Lifecycle, checker *Checker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go checker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
