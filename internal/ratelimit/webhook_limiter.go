package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/simbridge/simbridge/internal/config"
)

const keyWebhookSource = "webhook:ingest:src:%s"

// WebhookLimiter throttles inbound webhook deliveries per source address. A
// nil or disabled limiter admits everything, so the handler never needs a
// redis deployment in development.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.WebhookRate,
		burst:   limitCfg.WebhookBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) Allow(ctx context.Context, source string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookSource, strings.TrimSpace(source)), l.rate, l.burst)
}
