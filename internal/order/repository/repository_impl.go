package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("payment_reference = ?", reference).
		Limit(1).
		Find(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) Transition(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	newStatus domain.Status,
	priors []domain.Status,
	fields domain.TransitionFields,
	now time.Time,
) (bool, error) {
	updates := map[string]any{
		"status":     newStatus,
		"updated_at": now,
	}
	if fields.ProviderUsed != nil {
		updates["provider_used"] = *fields.ProviderUsed
	}
	if len(fields.Artifacts) > 0 {
		updates["artifacts"] = fields.Artifacts
	}
	if len(fields.FailureLedger) > 0 {
		updates["failure_ledger"] = fields.FailureLedger
	}
	if fields.ErrorDetail != nil {
		updates["error_detail"] = *fields.ErrorDetail
	}
	switch newStatus {
	case domain.StatusCompleted:
		updates["completed_at"] = now
	case domain.StatusFailed, domain.StatusProviderFailed:
		updates["failed_at"] = now
	}

	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, priors).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStaleFulfillmentStarted(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", domain.StatusFulfillmentStarted, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
