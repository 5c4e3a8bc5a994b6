package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, entry *InboxEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*InboxEntry, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status InboxStatus, limit int) ([]InboxEntry, error)

	// ListPendingOlderThan returns pending entries created before cutoff; the
	// minimum age keeps the drain from racing a still-running inline attempt.
	ListPendingOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]InboxEntry, error)

	// Claim moves pending→processing only while the row is still pending.
	// Losing the race reports claimed=false, not an error.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (claimed bool, err error)

	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// MarkRetry reverts processing→pending with the failure recorded, or
	// parks the entry as permanently failed once retryCount exceeds maxRetries.
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, maxRetries int, now time.Time) (dead bool, err error)

	// Redrive resets a permanently failed entry for another round of drains.
	Redrive(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	CountByStatus(ctx context.Context, db *gorm.DB, status InboxStatus) (int64, error)
}
