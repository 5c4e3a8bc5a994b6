package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/fulfillment/domain"
	"github.com/simbridge/simbridge/internal/notify"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CoordinatorConfig bounds one fulfillment pass.
type CoordinatorConfig struct {
	// Timeout is the overall wall-clock budget covering all retries.
	Timeout time.Duration
}

type CoordinatorParams struct {
	fx.In

	Log          *zap.Logger
	Orders       orderdomain.Service
	Registry     providerdomain.Service
	Orchestrator *Orchestrator
	Notifier     notify.Notifier
	Config       CoordinatorConfig   `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

// Coordinator is the top-level fulfillment entry point: it owns the order's
// status transitions and the overall wall-clock budget covering every retry.
type Coordinator struct {
	log        *zap.Logger
	orders     orderdomain.Service
	registry   providerdomain.Service
	orch       *Orchestrator
	notifier   notify.Notifier
	timeout    time.Duration
	obsMetrics *obsmetrics.Metrics
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	timeout := p.Config.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Coordinator{
		log:        p.Log.Named("fulfillment.coordinator"),
		orders:     p.Orders,
		registry:   p.Registry,
		orch:       p.Orchestrator,
		notifier:   p.Notifier,
		timeout:    timeout,
		obsMetrics: p.ObsMetrics,
	}
}

// Fulfill drives one order to a terminal state. On timeout the order is left
// in fulfillment_started for the reconciliation pass rather than forced
// terminal, because an in-flight provider call might still land.
func (c *Coordinator) Fulfill(parentCtx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Re-verify pre-terminal before any provider attempt: a retry racing a
	// completed fulfillment must never double-purchase.
	if order.Status.Terminal() {
		return order, nil
	}

	if order.Status == orderdomain.StatusPending {
		order, err = c.orders.Transition(ctx, orderID, orderdomain.StatusPaymentReceived, orderdomain.TransitionFields{})
		if err != nil {
			return nil, err
		}
	}
	if order.Status == orderdomain.StatusPaymentReceived {
		order, err = c.orders.Transition(ctx, orderID, orderdomain.StatusFulfillmentStarted, orderdomain.TransitionFields{})
		if err != nil {
			if errors.Is(err, orderdomain.ErrIllegalTransition) {
				// A concurrent instance moved the order first; defer to it.
				return c.orders.FindByID(ctx, orderID)
			}
			return nil, err
		}
	}

	eligible, err := c.registry.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return c.finishFailed(parentCtx, orderID, order, map[string]string{}, domain.ErrNoEligibleProviders.Error())
	}

	result := c.orch.Fulfil(ctx, order, eligible)

	if result.Succeeded {
		return c.finishCompleted(parentCtx, orderID, order, result)
	}

	if ctx.Err() != nil {
		c.log.Warn("fulfillment timed out, leaving order for reconciliation",
			zap.String("order_id", orderID.String()),
			zap.String("correlation_id", order.CorrelationID),
		)
		if c.obsMetrics != nil {
			c.obsMetrics.RecordFulfillmentOutcome(parentCtx, "timeout", "")
		}
		return order, domain.ErrFulfillmentTimeout
	}

	return c.finishFailed(parentCtx, orderID, order, result.Failures, "all providers exhausted")
}

func (c *Coordinator) finishCompleted(ctx context.Context, orderID snowflake.ID, order *orderdomain.Order, result domain.FulfillmentResult) (*orderdomain.Order, error) {
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil {
		return nil, err
	}
	provider := result.ProviderUsed

	updated, err := c.orders.Transition(ctx, orderID, orderdomain.StatusCompleted, orderdomain.TransitionFields{
		ProviderUsed: &provider,
		Artifacts:    datatypes.JSON(artifacts),
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("order fulfilled",
		zap.String("order_id", orderID.String()),
		zap.String("provider", provider),
		zap.String("correlation_id", updated.CorrelationID),
	)
	if c.obsMetrics != nil {
		c.obsMetrics.RecordFulfillmentOutcome(ctx, "completed", provider)
	}

	c.notifier.NotifyOrderCompleted(ctx, updated)
	return updated, nil
}

func (c *Coordinator) finishFailed(ctx context.Context, orderID snowflake.ID, order *orderdomain.Order, failures map[string]string, detail string) (*orderdomain.Order, error) {
	ledger, err := json.Marshal(failures)
	if err != nil {
		return nil, err
	}

	updated, err := c.orders.Transition(ctx, orderID, orderdomain.StatusProviderFailed, orderdomain.TransitionFields{
		FailureLedger: datatypes.JSON(ledger),
		ErrorDetail:   &detail,
	})
	if err != nil {
		return nil, err
	}

	c.log.Error("order fulfillment exhausted all providers",
		zap.String("order_id", orderID.String()),
		zap.String("correlation_id", updated.CorrelationID),
		zap.Int("providers_attempted", len(failures)),
	)
	if c.obsMetrics != nil {
		c.obsMetrics.RecordFulfillmentOutcome(ctx, "provider_failed", "")
	}

	c.notifier.NotifyOrderFailed(ctx, updated, failures)
	return updated, nil
}
