package domain

import "errors"

// FulfillmentResult is the outcome of one failover pass. On failure,
// Failures holds one message per attempted provider so operators see the
// whole picture at once.
type FulfillmentResult struct {
	Succeeded    bool              `json:"succeeded"`
	ProviderUsed string            `json:"provider_used,omitempty"`
	Artifacts    Artifacts         `json:"artifacts,omitempty"`
	Failures     map[string]string `json:"failures,omitempty"`
}

var (
	ErrNoEligibleProviders = errors.New("no_eligible_providers")
	ErrFulfillmentTimeout  = errors.New("fulfillment_timeout")
)
