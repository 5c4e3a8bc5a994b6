package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/healthcheck"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	"github.com/simbridge/simbridge/internal/ratelimit"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	webhookdomain "github.com/simbridge/simbridge/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	log            *zap.Logger
	ordersvc       orderdomain.Service
	providersvc    providerdomain.Service
	webhooksvc     webhookdomain.Service
	checker        *healthcheck.Checker
	webhookLimiter *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger
	Ordersvc       orderdomain.Service
	Providersvc    providerdomain.Service
	Webhooksvc     webhookdomain.Service
	Checker        *healthcheck.Checker       `optional:"true"`
	WebhookLimiter *ratelimit.WebhookLimiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		log:            p.Log.Named("http"),
		ordersvc:       p.Ordersvc,
		providersvc:    p.Providersvc,
		webhooksvc:     p.Webhooksvc,
		checker:        p.Checker,
		webhookLimiter: p.WebhookLimiter,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/webhooks/payment", s.WebhookRateLimit(), s.HandlePaymentWebhook)

	v1.GET("/orders", s.GetOrderByReference)
	v1.GET("/orders/:id", s.GetOrderByID)
	v1.POST("/orders/:id/refund", s.RefundOrder)

	v1.GET("/providers", s.ListProviders)
	v1.POST("/providers", s.CreateProvider)
	v1.PATCH("/providers/:slug/active", s.SetProviderActive)
	v1.PATCH("/providers/:slug/priority", s.UpdateProviderPriority)
	v1.POST("/providers/:slug/reset-circuit", s.ResetProviderCircuit)
	v1.GET("/providers/:slug/health", s.GetProviderHealth)

	v1.GET("/inbox", s.ListInboxEntries)
	v1.POST("/inbox/:id/redrive", s.RedriveInboxEntry)
}
