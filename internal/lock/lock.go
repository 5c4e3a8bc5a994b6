package lock

import (
	"context"
	"time"
)

// Lock is a store-backed lease: at most one unexpired row per name. It is
// the only cross-instance mutual exclusion primitive; in-process mutexes
// cannot protect a second server instance.
type Lock struct {
	Name      string    `json:"name" gorm:"primaryKey;type:text"`
	HolderID  string    `json:"holder_id" gorm:"type:text;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
}

func (Lock) TableName() string { return "locks" }

// Acquisition is the outcome of an acquire attempt. When not acquired,
// HolderID identifies the current holder so jobs can log "skipped, held by X".
type Acquisition struct {
	Acquired  bool
	HolderID  string
	ExpiresAt time.Time
}

// Manager grants, renews and releases named leases.
type Manager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Acquisition, error)
	Renew(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error

	// WithLock wraps fn in acquire/guaranteed-release. A failed acquisition
	// returns skipped=true and no error.
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (skipped bool, err error)
}
