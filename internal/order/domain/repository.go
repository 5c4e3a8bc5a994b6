package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Order, error)

	// Transition moves the row into newStatus only while its current status
	// is one of priors; the affected-row count tells the caller whether it
	// won against any concurrent mover.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, newStatus Status, priors []Status, fields TransitionFields, now time.Time) (bool, error)

	// ListStaleFulfillmentStarted returns orders stuck in fulfillment_started
	// since before cutoff, for the reconciliation pass.
	ListStaleFulfillmentStarted(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Order, error)
}
