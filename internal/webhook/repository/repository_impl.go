package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/webhook/domain"
	pkgdb "github.com/simbridge/simbridge/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, entry *domain.InboxEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.InboxEntry, error) {
	var entry domain.InboxEntry
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, status domain.InboxStatus, limit int) ([]domain.InboxEntry, error) {
	var entries []domain.InboxEntry
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListPendingOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.InboxEntry, error) {
	var entries []domain.InboxEntry
	err := db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", domain.InboxPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	guard := db.Where("id = ? AND status = ?", id, domain.InboxPending)
	return pkgdb.Claim(ctx, db, &domain.InboxEntry{}, guard, map[string]any{
		"status":     domain.InboxProcessing,
		"updated_at": now,
	})
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.InboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.InboxCompleted,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, maxRetries int, now time.Time) (bool, error) {
	// One statement decides pending-vs-dead from the incremented count so two
	// drains never disagree about the same entry.
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_inbox
		 SET status = CASE WHEN retry_count + 1 > ? THEN 'failed' ELSE 'pending' END,
		     retry_count = retry_count + 1,
		     last_error = ?,
		     updated_at = ?
		 WHERE id = ?`,
		maxRetries,
		lastError,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}

	var entry domain.InboxEntry
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&entry).Error; err != nil {
		return false, err
	}
	return entry.Status == domain.InboxFailed, nil
}

func (r *repo) Redrive(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	guard := db.Where("id = ? AND status = ?", id, domain.InboxFailed)
	return pkgdb.Claim(ctx, db, &domain.InboxEntry{}, guard, map[string]any{
		"status":      domain.InboxPending,
		"retry_count": 0,
		"last_error":  nil,
		"updated_at":  now,
	})
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, status domain.InboxStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.InboxEntry{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
