package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/simbridge/simbridge/internal/fulfillment/domain"
)

// Adapter is the built-in vendor used in development and smoke tests. It
// provisions fabricated artifacts and never talks to a network.
type Adapter struct {
	slug    string
	counter atomic.Int64
}

func New(slug string) *Adapter {
	if slug == "" {
		slug = "sandbox"
	}
	return &Adapter{slug: slug}
}

func (a *Adapter) Slug() string { return a.slug }

func (a *Adapter) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	if req.ProviderSKU == "" {
		return nil, &domain.PurchaseError{
			Type:      domain.ErrorTypeValidation,
			Message:   "provider sku is required",
			Retryable: false,
		}
	}

	seq := a.counter.Add(1)
	iccid := fmt.Sprintf("8988%012d%04d", rand.Int63n(1_000_000_000_000), seq%10_000)
	activation := fmt.Sprintf("LPA:1$sandbox.smdp.example$%s-%d", req.CorrelationID, seq)

	return &domain.PurchaseResult{
		Artifacts: domain.Artifacts{
			ICCID:          iccid,
			SMDPAddress:    "sandbox.smdp.example",
			ActivationCode: activation,
			QRPayload:      activation,
		},
	}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool { return true }
