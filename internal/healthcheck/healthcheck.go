package healthcheck

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// HealthLog is one probe observation for one provider. Probes are advisory
// dashboard input only: circuit state moves on real fulfillment outcomes, a
// passing probe proves nothing about purchase traffic.
type HealthLog struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	ProviderSlug string       `json:"provider_slug" gorm:"type:text;not null;index:ix_provider_health_logs_slug_checked,priority:1"`
	Healthy      bool         `json:"healthy" gorm:"not null"`
	LatencyMS    int64        `json:"latency_ms" gorm:"not null;default:0"`
	CheckedAt    time.Time    `json:"checked_at" gorm:"not null;index:ix_provider_health_logs_slug_checked,priority:2"`
}

func (HealthLog) TableName() string { return "provider_health_logs" }

// Config controls the periodic probe worker.
type Config struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
	LockTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.PollInterval
	}
	return c
}
