package domain

import (
	"context"
	"errors"
)

// Service is the provider health registry consumed by the failover
// orchestrator and the operator API.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Provider, error)
	List(ctx context.Context) ([]EligibleProvider, error)

	// ListEligible returns active providers whose effective circuit state
	// admits an attempt, sorted by descending priority with slug tie-break.
	ListEligible(ctx context.Context) ([]EligibleProvider, error)

	RecordSuccess(ctx context.Context, slug string) error
	RecordFailure(ctx context.Context, slug string, cause error) error
	ClaimHalfOpenTrial(ctx context.Context, slug string) (bool, error)

	SetActive(ctx context.Context, slug string, isActive bool) error
	UpdatePriority(ctx context.Context, slug string, priority int) error
	ResetCircuit(ctx context.Context, slug string) error
}

type CreateRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Priority      int    `json:"priority"`
	EndpointRef   string `json:"endpoint_ref"`
	CredentialRef string `json:"credential_ref"`
}

var (
	ErrNotFound        = errors.New("provider_not_found")
	ErrInvalidSlug     = errors.New("invalid_provider_slug")
	ErrInvalidName     = errors.New("invalid_provider_name")
	ErrInvalidPriority = errors.New("invalid_provider_priority")
	ErrDuplicateSlug   = errors.New("duplicate_provider_slug")
)
