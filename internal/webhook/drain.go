package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/lock"
	"github.com/simbridge/simbridge/internal/notify"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	"github.com/simbridge/simbridge/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const drainLockName = "webhook-inbox-drain"

// DrainConfig controls the periodic inbox drain.
type DrainConfig struct {
	PollInterval time.Duration
	// MinAge keeps the drain off entries an inline attempt may still be working.
	MinAge     time.Duration
	MaxRetries int
	LockTTL    time.Duration
	BatchSize  int
}

func DefaultDrainConfig() DrainConfig {
	return DrainConfig{
		PollInterval: time.Minute,
		MinAge:       time.Minute,
		MaxRetries:   3,
		LockTTL:      4 * time.Minute,
		BatchSize:    50,
	}
}

func (c DrainConfig) withDefaults() DrainConfig {
	defaults := DefaultDrainConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MinAge <= 0 {
		c.MinAge = defaults.MinAge
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

type DrainerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Service    domain.Service
	Locks      lock.Manager
	Notifier   notify.Notifier
	Config     DrainConfig         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Drainer retries parked webhook events. Each entry is claimed through the
// optimistic pending→processing update, so a second scheduler losing the lock
// race, or the lock expiring mid-run, cannot double-process an entry.
type Drainer struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	service    domain.Service
	locks      lock.Manager
	notifier   notify.Notifier
	cfg        DrainConfig
	obsMetrics *obsmetrics.Metrics
}

func NewDrainer(p DrainerParams) *Drainer {
	return &Drainer{
		db:         p.DB,
		log:        p.Log.Named("webhook.drain"),
		clock:      p.Clock,
		repo:       p.Repo,
		service:    p.Service,
		locks:      p.Locks,
		notifier:   p.Notifier,
		cfg:        p.Config.withDefaults(),
		obsMetrics: p.ObsMetrics,
	}
}

func (d *Drainer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Warn("inbox drain run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Drainer) RunOnce(ctx context.Context) error {
	_, err := d.locks.WithLock(ctx, drainLockName, d.cfg.LockTTL, func(ctx context.Context) error {
		now := d.clock.Now()
		cutoff := now.Add(-d.cfg.MinAge)

		entries, err := d.repo.ListPendingOlderThan(ctx, d.db, cutoff, d.cfg.BatchSize)
		if err != nil {
			return err
		}

		for i := range entries {
			d.drainEntry(ctx, &entries[i])
		}

		return d.reportDead(ctx)
	})
	return err
}

func (d *Drainer) drainEntry(ctx context.Context, entry *domain.InboxEntry) {
	claimed, err := d.repo.Claim(ctx, d.db, entry.ID, d.clock.Now())
	if err != nil {
		d.log.Warn("inbox claim failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		return
	}

	if err := d.processEntry(ctx, entry); err != nil {
		d.retryEntry(ctx, entry, err)
		return
	}

	if err := d.repo.MarkCompleted(ctx, d.db, entry.ID, d.clock.Now()); err != nil {
		d.log.Warn("inbox completion write failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
		return
	}

	d.log.Info("inbox entry processed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("correlation_id", entry.CorrelationID),
		zap.Int("retry_count", entry.RetryCount),
	)
}

func (d *Drainer) processEntry(ctx context.Context, entry *domain.InboxEntry) error {
	var event domain.PaymentEvent
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		return err
	}
	return d.service.ProcessEvent(ctx, &event, entry.CorrelationID)
}

func (d *Drainer) retryEntry(ctx context.Context, entry *domain.InboxEntry, cause error) {
	if d.obsMetrics != nil {
		d.obsMetrics.RecordInboxRetry(ctx)
	}

	dead, err := d.repo.MarkRetry(ctx, d.db, entry.ID, cause.Error(), d.cfg.MaxRetries, d.clock.Now())
	if err != nil {
		d.log.Warn("inbox retry write failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
		return
	}

	if !dead {
		d.log.Warn("inbox entry retry scheduled",
			zap.String("entry_id", entry.ID.String()),
			zap.String("correlation_id", entry.CorrelationID),
			zap.Int("retry_count", entry.RetryCount+1),
			zap.Error(cause),
		)
		return
	}

	d.log.Error("inbox entry permanently failed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("correlation_id", entry.CorrelationID),
		zap.Error(cause),
	)
	if d.obsMetrics != nil {
		d.obsMetrics.RecordInboxDead(ctx)
	}

	updated, err := d.repo.FindByID(ctx, d.db, entry.ID)
	if err == nil && updated != nil {
		d.notifier.NotifyInboxEntryDead(ctx, updated)
	}
}

// reportDead surfaces the dead-letter backlog every run; dead entries stay
// out of the drain until an operator redrives them, so the log line is the
// standing reminder that they exist.
func (d *Drainer) reportDead(ctx context.Context) error {
	count, err := d.repo.CountByStatus(ctx, d.db, domain.InboxFailed)
	if err != nil {
		return err
	}
	if count > 0 {
		d.log.Warn("inbox has permanently failed entries awaiting redrive",
			zap.Int64("count", count),
		)
	}
	return nil
}
