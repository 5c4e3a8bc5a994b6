package healthcheck

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/fulfillment/adapters"
	"github.com/simbridge/simbridge/internal/lock"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const checkLockName = "provider-health-check"

type CheckerParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Providers providerdomain.Service
	Adapters  *adapters.Registry
	Locks     lock.Manager
	Config    Config `optional:"true"`
}

// Checker probes each active provider's adapter on a schedule and appends the
// result to the health log. It deliberately never touches circuit state.
type Checker struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	providers providerdomain.Service
	adapters  *adapters.Registry
	locks     lock.Manager
	cfg       Config
}

func NewChecker(p CheckerParams) *Checker {
	return &Checker{
		db:        p.DB,
		log:       p.Log.Named("healthcheck"),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		adapters:  p.Adapters,
		locks:     p.Locks,
		cfg:       p.Config.withDefaults(),
	}
}

func (c *Checker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			c.log.Warn("health check run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) RunOnce(ctx context.Context) error {
	_, err := c.locks.WithLock(ctx, checkLockName, c.cfg.LockTTL, func(ctx context.Context) error {
		providers, err := c.providers.List(ctx)
		if err != nil {
			return err
		}

		for _, provider := range providers {
			c.probe(ctx, provider.Slug)
		}
		return nil
	})
	return err
}

func (c *Checker) probe(ctx context.Context, slug string) {
	adapter, ok := c.adapters.Get(slug)
	if !ok {
		c.log.Warn("no adapter registered for provider", zap.String("provider", slug))
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	started := time.Now()
	healthy := adapter.HealthCheck(probeCtx)
	latency := time.Since(started)

	entry := HealthLog{
		ID:           c.genID.Generate(),
		ProviderSlug: slug,
		Healthy:      healthy,
		LatencyMS:    latency.Milliseconds(),
		CheckedAt:    c.clock.Now(),
	}
	if err := c.db.WithContext(ctx).Create(&entry).Error; err != nil {
		c.log.Warn("health log write failed",
			zap.String("provider", slug),
			zap.Error(err),
		)
		return
	}

	if !healthy {
		c.log.Warn("provider probe unhealthy",
			zap.String("provider", slug),
			zap.Duration("latency", latency),
		)
	}
}

// RecentLogs returns the latest probe observations for one provider, newest
// first. The operator API uses it for the provider detail view.
func (c *Checker) RecentLogs(ctx context.Context, slug string, limit int) ([]HealthLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var logs []HealthLog
	err := c.db.WithContext(ctx).
		Where("provider_slug = ?", slug).
		Order("checked_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
