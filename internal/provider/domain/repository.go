package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists providers. Every breaker write is a single conditional
// UPDATE with SQL expressions so two instances never interleave a
// read-modify-write on the circuit columns.
type Repository interface {
	Create(ctx context.Context, db *gorm.DB, provider *Provider) error
	List(ctx context.Context, db *gorm.DB) ([]Provider, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Provider, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Provider, error)

	// RecordSuccess resets the failure streak, closes the circuit and rolls
	// the success rate upward.
	RecordSuccess(ctx context.Context, db *gorm.DB, slug string, now time.Time) (bool, error)
	// RecordFailure bumps the failure streak, rolls the success rate downward
	// and trips the circuit when the streak reaches threshold or a half-open
	// trial was in flight.
	RecordFailure(ctx context.Context, db *gorm.DB, slug string, threshold int, now time.Time) (bool, error)
	// ClaimHalfOpenTrial admits exactly one trial request through a cooled-down
	// OPEN circuit. Losing the claim is a skip, not an error.
	ClaimHalfOpenTrial(ctx context.Context, db *gorm.DB, slug string, cooldownCutoff, now time.Time) (bool, error)

	SetActive(ctx context.Context, db *gorm.DB, slug string, isActive bool, now time.Time) (bool, error)
	UpdatePriority(ctx context.Context, db *gorm.DB, slug string, priority int, now time.Time) (bool, error)
	ResetCircuit(ctx context.Context, db *gorm.DB, slug string, now time.Time) (bool, error)
}
