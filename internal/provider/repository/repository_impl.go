package repository

import (
	"context"
	"time"

	"github.com/simbridge/simbridge/internal/provider/domain"
	"gorm.io/gorm"
)

// ewmaAlpha is the weight of the newest sample in the rolling success rate.
// The rate needs no sample history, only the current value, so memory stays
// bounded no matter how many attempts a provider has served.
const ewmaAlpha = 0.2

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, provider *domain.Provider) error {
	return db.WithContext(ctx).Create(provider).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Provider, error) {
	var providers []domain.Provider
	err := db.WithContext(ctx).
		Order("priority DESC").
		Order("slug ASC").
		Find(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.Provider, error) {
	var providers []domain.Provider
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC").
		Order("slug ASC").
		Find(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Provider, error) {
	var provider domain.Provider
	err := db.WithContext(ctx).
		Where("slug = ?", slug).
		Limit(1).
		Find(&provider).Error
	if err != nil {
		return nil, err
	}
	if provider.ID == 0 {
		return nil, nil
	}
	return &provider, nil
}

func (r *repo) RecordSuccess(ctx context.Context, db *gorm.DB, slug string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET circuit_state = ?,
		     consecutive_failures = 0,
		     half_open_trial = ?,
		     success_rate = success_rate * ? + ?,
		     last_success_at = ?,
		     updated_at = ?
		 WHERE slug = ?`,
		domain.CircuitClosed,
		false,
		1-ewmaAlpha,
		100*ewmaAlpha,
		now,
		now,
		slug,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, slug string, threshold int, now time.Time) (bool, error) {
	// circuit_state is assigned first so the CASE sees the pre-update
	// half_open_trial and consecutive_failures on every dialect.
	res := db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET circuit_state = CASE
		       WHEN half_open_trial THEN 'open'
		       WHEN consecutive_failures + 1 >= ? THEN 'open'
		       ELSE circuit_state
		     END,
		     consecutive_failures = consecutive_failures + 1,
		     half_open_trial = ?,
		     success_rate = success_rate * ?,
		     last_failure_at = ?,
		     updated_at = ?
		 WHERE slug = ?`,
		threshold,
		false,
		1-ewmaAlpha,
		now,
		now,
		slug,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimHalfOpenTrial(ctx context.Context, db *gorm.DB, slug string, cooldownCutoff, now time.Time) (bool, error) {
	// A trial left behind by a dead process frees up once updated_at falls
	// behind the cooldown cutoff as well.
	res := db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET half_open_trial = ?,
		     updated_at = ?
		 WHERE slug = ?
		   AND is_active = ?
		   AND circuit_state = 'open'
		   AND (last_failure_at IS NULL OR last_failure_at <= ?)
		   AND (half_open_trial = ? OR updated_at <= ?)`,
		true,
		now,
		slug,
		true,
		cooldownCutoff,
		false,
		cooldownCutoff,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, slug string, isActive bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE providers SET is_active = ?, updated_at = ? WHERE slug = ?`,
		isActive, now, slug,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdatePriority(ctx context.Context, db *gorm.DB, slug string, priority int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE providers SET priority = ?, updated_at = ? WHERE slug = ?`,
		priority, now, slug,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResetCircuit(ctx context.Context, db *gorm.DB, slug string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET circuit_state = ?,
		     consecutive_failures = 0,
		     half_open_trial = ?,
		     updated_at = ?
		 WHERE slug = ?`,
		domain.CircuitClosed,
		false,
		now,
		slug,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
