package domain

import (
	"context"
	"fmt"
)

// ErrorType classifies a purchase failure for the failover decision.
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeUpstream   ErrorType = "upstream_error"
	ErrorTypeOutOfStock ErrorType = "out_of_stock"
	ErrorTypeValidation ErrorType = "validation"
)

// PurchaseError is the typed failure an adapter returns. The orchestrator
// trusts Retryable as classified by the adapter; it never infers
// retryability from transport status codes.
type PurchaseError struct {
	Type      ErrorType
	Message   string
	Retryable bool
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// PurchaseRequest is the uniform purchase contract across vendors.
type PurchaseRequest struct {
	ProviderSKU   string
	Quantity      int
	CustomerEmail string
	CorrelationID string
}

// Artifacts are the provisioned eSIM credentials returned on success.
type Artifacts struct {
	ICCID          string `json:"iccid"`
	SMDPAddress    string `json:"smdp_address"`
	ActivationCode string `json:"activation_code"`
	QRPayload      string `json:"qr_payload,omitempty"`
}

type PurchaseResult struct {
	Artifacts Artifacts
}

// Adapter is the capability every vendor integration implements. Health
// checks feed the health log only, never the circuit breaker.
type Adapter interface {
	Slug() string
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	HealthCheck(ctx context.Context) bool
}
