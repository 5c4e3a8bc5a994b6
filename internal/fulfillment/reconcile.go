package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/simbridge/simbridge/internal/fulfillment/domain"
	"github.com/simbridge/simbridge/internal/lock"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reconcileLockName = "order-reconcile"

// ReconcileConfig controls the stale-order reconciliation worker.
type ReconcileConfig struct {
	PollInterval time.Duration
	StaleAge     time.Duration
	LockTTL      time.Duration
	BatchSize    int
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		PollInterval: 5 * time.Minute,
		StaleAge:     10 * time.Minute,
		LockTTL:      4 * time.Minute,
		BatchSize:    20,
	}
}

func (c ReconcileConfig) withDefaults() ReconcileConfig {
	defaults := DefaultReconcileConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.StaleAge <= 0 {
		c.StaleAge = defaults.StaleAge
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

type ReconcilerParams struct {
	fx.In

	Log         *zap.Logger
	Orders      orderdomain.Service
	Coordinator *Coordinator
	Locks       lock.Manager
	Config      ReconcileConfig `optional:"true"`
}

// Reconciler re-drives orders a timed-out coordinator left in
// fulfillment_started. The coordinator re-verifies pre-terminal state before
// touching a provider, so a redundant pass is harmless.
type Reconciler struct {
	log         *zap.Logger
	orders      orderdomain.Service
	coordinator *Coordinator
	locks       lock.Manager
	cfg         ReconcileConfig
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		log:         p.Log.Named("fulfillment.reconcile"),
		orders:      p.Orders,
		coordinator: p.Coordinator,
		locks:       p.Locks,
		cfg:         p.Config.withDefaults(),
	}
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconcile run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) error {
	_, err := r.locks.WithLock(ctx, reconcileLockName, r.cfg.LockTTL, func(ctx context.Context) error {
		stale, err := r.orders.ListStaleFulfillmentStarted(ctx, r.cfg.StaleAge, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, order := range stale {
			r.log.Info("reconciling stale order",
				zap.String("order_id", order.ID.String()),
				zap.String("correlation_id", order.CorrelationID),
			)
			if _, err := r.coordinator.Fulfill(ctx, order.ID); err != nil {
				if errors.Is(err, domain.ErrFulfillmentTimeout) {
					continue
				}
				r.log.Warn("stale order reconcile failed",
					zap.String("order_id", order.ID.String()),
					zap.Error(err),
				)
			}
		}
		return nil
	})
	return err
}
