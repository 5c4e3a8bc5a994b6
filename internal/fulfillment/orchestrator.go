package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/simbridge/simbridge/internal/fulfillment/adapters"
	"github.com/simbridge/simbridge/internal/fulfillment/domain"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type OrchestratorParams struct {
	fx.In

	Log        *zap.Logger
	Registry   providerdomain.Service
	Adapters   *adapters.Registry
	Retry      RetryConfig         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator walks the priority-ordered provider list until one purchase
// lands. Each Fulfil call is order-scoped: the only shared writes are the
// registry's own atomic counters.
type Orchestrator struct {
	log        *zap.Logger
	registry   providerdomain.Service
	adapters   *adapters.Registry
	retry      RetryConfig
	obsMetrics *obsmetrics.Metrics
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		log:        p.Log.Named("fulfillment.orchestrator"),
		registry:   p.Registry,
		adapters:   p.Adapters,
		retry:      p.Retry.WithDefaults(),
		obsMetrics: p.ObsMetrics,
	}
}

// Fulfil attempts the purchase across eligible providers, already sorted and
// circuit-filtered by the registry. Retryable errors back off and retry
// against the same provider up to the attempt cap; non-retryable errors fail
// over immediately. Every exhausted provider lands in the result's ledger.
func (o *Orchestrator) Fulfil(ctx context.Context, order *orderdomain.Order, providers []providerdomain.EligibleProvider) domain.FulfillmentResult {
	result := domain.FulfillmentResult{Failures: map[string]string{}}

	for _, p := range providers {
		if ctx.Err() != nil {
			return result
		}

		maxAttempts := o.retry.MaxAttempts
		if p.EffectiveState == providerdomain.CircuitHalfOpen {
			// A cooled-down circuit admits exactly one trial; the claim is
			// the same atomic write every instance races on.
			claimed, err := o.registry.ClaimHalfOpenTrial(ctx, p.Slug)
			if err != nil {
				o.log.Warn("half-open claim failed", zap.String("provider", p.Slug), zap.Error(err))
				continue
			}
			if !claimed {
				o.log.Debug("half-open trial already in flight", zap.String("provider", p.Slug))
				continue
			}
			maxAttempts = 1
		}

		artifacts, attemptErr := o.attemptProvider(ctx, order, p.Slug, maxAttempts)
		if attemptErr == nil {
			if err := o.registry.RecordSuccess(ctx, p.Slug); err != nil {
				o.log.Warn("record success failed", zap.String("provider", p.Slug), zap.Error(err))
			}
			result.Succeeded = true
			result.ProviderUsed = p.Slug
			result.Artifacts = *artifacts
			return result
		}

		if ctx.Err() != nil && errors.Is(attemptErr, ctx.Err()) {
			// Timed out mid-provider: stop waiting without writing a failure
			// against a vendor that may still deliver.
			return result
		}

		result.Failures[p.Slug] = attemptErr.Error()

		o.log.Info("provider exhausted, failing over",
			zap.String("provider", p.Slug),
			zap.String("order_id", order.ID.String()),
			zap.String("correlation_id", order.CorrelationID),
			zap.Error(attemptErr),
		)
	}

	return result
}

func (o *Orchestrator) attemptProvider(ctx context.Context, order *orderdomain.Order, slug string, maxAttempts int) (*domain.Artifacts, error) {
	adapter, ok := o.adapters.Get(slug)
	if !ok {
		return nil, &domain.PurchaseError{
			Type:      domain.ErrorTypeValidation,
			Message:   "no adapter registered for provider",
			Retryable: false,
		}
	}

	req := domain.PurchaseRequest{
		ProviderSKU:   order.ProductRef,
		Quantity:      1,
		CustomerEmail: order.CustomerEmail,
		CorrelationID: order.CorrelationID,
	}

	schedule := o.retry.NewSchedule()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if o.obsMetrics != nil {
			o.obsMetrics.RecordFulfillmentAttempt(ctx, slug)
		}

		res, err := adapter.Purchase(ctx, req)
		if err == nil && res != nil {
			return &res.Artifacts, nil
		}
		if err == nil {
			err = &domain.PurchaseError{
				Type:      domain.ErrorTypeUpstream,
				Message:   "adapter returned empty result",
				Retryable: false,
			}
		}
		lastErr = err

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}

		// Every failed attempt feeds the breaker, so the failure count a
		// provider accumulates matches the attempts it actually burned.
		if recErr := o.registry.RecordFailure(ctx, slug, err); recErr != nil {
			o.log.Warn("record failure failed", zap.String("provider", slug), zap.Error(recErr))
		}

		var purchaseErr *domain.PurchaseError
		if !errors.As(err, &purchaseErr) || !purchaseErr.Retryable {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		wait := schedule.NextBackOff()
		o.log.Debug("retrying provider after backoff",
			zap.String("provider", slug),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
