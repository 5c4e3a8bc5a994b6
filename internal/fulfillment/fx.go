package fulfillment

import (
	"context"

	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/fulfillment/adapters"
	"github.com/simbridge/simbridge/internal/fulfillment/adapters/sandbox"
	"go.uber.org/fx"
)

func provideAdapters() *adapters.Registry {
	// Vendor adapters register here; sandbox ships for local and CI runs.
	return adapters.NewRegistry(
		sandbox.New("sandbox"),
	)
}

func provideCoordinatorConfig(cfg config.Config) CoordinatorConfig {
	return CoordinatorConfig{Timeout: cfg.FulfillmentTimeout}
}

func provideReconcileConfig(cfg config.Config) ReconcileConfig {
	return ReconcileConfig{
		PollInterval: cfg.ReconcileInterval,
		StaleAge:     cfg.ReconcileStaleAge,
	}.withDefaults()
}

var Module = fx.Module("fulfillment",
	fx.Provide(provideAdapters),
	fx.Provide(DefaultRetryConfig),
	fx.Provide(provideCoordinatorConfig),
	fx.Provide(NewOrchestrator),
	fx.Provide(NewCoordinator),
)

// WorkerModule runs the reconciliation loop; scheduler binaries include it.
var WorkerModule = fx.Module("fulfillment.reconcile",
	fx.Provide(provideReconcileConfig),
	fx.Provide(NewReconciler),
	fx.Invoke(runReconciler),
)

func runReconciler(lc fx.Lifecycle, reconciler *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go reconciler.RunForever(ctx)

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
