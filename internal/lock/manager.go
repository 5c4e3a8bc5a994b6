package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/simbridge/simbridge/internal/clock"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	pkgdb "github.com/simbridge/simbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type manager struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	holderID   string
	obsMetrics *obsmetrics.Metrics
}

// New builds a Manager with a random holder id per process run, so a
// restarted instance never mistakes a predecessor's lease for its own.
func New(p Params) Manager {
	return &manager{
		db:         p.DB,
		log:        p.Log.Named("lock.manager"),
		clock:      p.Clock,
		holderID:   uuid.NewString(),
		obsMetrics: p.ObsMetrics,
	}
}

func (m *manager) Acquire(ctx context.Context, name string, ttl time.Duration) (Acquisition, error) {
	now := m.clock.Now()
	row := Lock{
		Name:      name,
		HolderID:  m.holderID,
		ExpiresAt: now.Add(ttl),
	}

	err := m.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		m.recordAcquisition(ctx, name, true)
		return Acquisition{Acquired: true, HolderID: m.holderID, ExpiresAt: row.ExpiresAt}, nil
	}
	if !pkgdb.IsDuplicateKeyErr(err) {
		return Acquisition{}, err
	}

	// A row exists. Take it over only if its lease has lapsed; the guard on
	// expires_at makes the takeover a single atomic conditional write.
	guard := m.db.Where("name = ? AND expires_at <= ?", name, now)
	claimed, err := pkgdb.Claim(ctx, m.db, &Lock{}, guard, map[string]any{
		"holder_id":  m.holderID,
		"expires_at": now.Add(ttl),
	})
	if err != nil {
		return Acquisition{}, err
	}
	if claimed {
		m.recordAcquisition(ctx, name, true)
		return Acquisition{Acquired: true, HolderID: m.holderID, ExpiresAt: now.Add(ttl)}, nil
	}

	var current Lock
	if err := m.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&current).Error; err != nil {
		return Acquisition{}, err
	}
	m.recordAcquisition(ctx, name, false)
	return Acquisition{Acquired: false, HolderID: current.HolderID, ExpiresAt: current.ExpiresAt}, nil
}

func (m *manager) Renew(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := m.clock.Now()
	guard := m.db.Where("name = ? AND holder_id = ?", name, m.holderID)
	return pkgdb.Claim(ctx, m.db, &Lock{}, guard, map[string]any{
		"expires_at": now.Add(ttl),
	})
}

func (m *manager) Release(ctx context.Context, name string) error {
	// Delete only while still owned: after TTL expiry another instance may
	// have reacquired the name, and its lease must survive our release.
	return m.db.WithContext(ctx).
		Where("name = ? AND holder_id = ?", name, m.holderID).
		Delete(&Lock{}).Error
}

func (m *manager) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	acq, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if !acq.Acquired {
		m.log.Info("job skipped, lock held elsewhere",
			zap.String("lock", name),
			zap.String("held_by", acq.HolderID),
			zap.Time("expires_at", acq.ExpiresAt),
		)
		return true, nil
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.Release(releaseCtx, name); err != nil {
			m.log.Warn("lock release failed", zap.String("lock", name), zap.Error(err))
		}
	}()

	return false, fn(ctx)
}

func (m *manager) recordAcquisition(ctx context.Context, name string, acquired bool) {
	if m.obsMetrics != nil {
		m.obsMetrics.RecordLockAcquisition(ctx, name, acquired)
	}
}

var Module = fx.Module("lock.manager",
	fx.Provide(New),
)
