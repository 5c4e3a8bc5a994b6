package webhook

import (
	"context"

	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/webhook/repository"
	"github.com/simbridge/simbridge/internal/webhook/service"
	"go.uber.org/fx"
)

func provideDrainConfig(cfg config.Config) DrainConfig {
	return DrainConfig{
		PollInterval: cfg.InboxDrainInterval,
		MinAge:       cfg.InboxMinAge,
		MaxRetries:   cfg.InboxMaxRetries,
	}.withDefaults()
}

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// WorkerModule runs the inbox drain loop; scheduler binaries include it.
var WorkerModule = fx.Module("webhook.drain",
	fx.Provide(provideDrainConfig),
	fx.Provide(NewDrainer),
	fx.Invoke(runDrainer),
)

func runDrainer(lc fx.Lifecycle, drainer *Drainer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go drainer.RunForever(ctx)

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
