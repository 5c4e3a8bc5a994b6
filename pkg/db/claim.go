package db

import (
	"context"

	"gorm.io/gorm"
)

// Claim performs a conditional update that succeeds only while the guard
// predicate still holds on the current row. It is the shared primitive behind
// the inbox claim, the distributed lock takeover, and the order status guard:
// the caller learns from the affected-row count whether it won the race.
func Claim(ctx context.Context, db *gorm.DB, model any, guard *gorm.DB, updates map[string]any) (bool, error) {
	res := db.WithContext(ctx).Model(model).Where(guard).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
