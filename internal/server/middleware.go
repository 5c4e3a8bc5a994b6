package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simbridge/simbridge/pkg/correlation"
	"go.uber.org/zap"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware stamps every request with a correlation ID, reusing
// the caller's when supplied, and echoes it on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(correlationHeader))
		ctx := correlation.ContextWith(c.Request.Context(), cid)
		ctx, cid = correlation.Ensure(ctx)

		c.Request = c.Request.WithContext(ctx)
		c.Header(correlationHeader, cid)

		c.Next()
	}
}

// RequestLogger emits one structured line per request after it completes.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("correlation_id", correlation.Extract(c.Request.Context())),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// WebhookRateLimit throttles deliveries per source address through the shared
// redis bucket. Disabled limiter admits everything.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		allowed, err := s.webhookLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Fail open: a redis outage must not drop payment notifications.
			s.log.Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}
