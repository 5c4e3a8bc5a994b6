package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	gosimpleslug "github.com/gosimple/slug"
	"github.com/simbridge/simbridge/internal/clock"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	"github.com/simbridge/simbridge/internal/provider/domain"
	"github.com/simbridge/simbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Breaker    domain.BreakerConfig
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	breaker    domain.BreakerConfig
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("provider.registry"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		breaker:    p.Breaker.WithDefaults(),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Provider, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.Priority < 0 {
		return nil, domain.ErrInvalidPriority
	}

	raw := req.Slug
	if strings.TrimSpace(raw) == "" {
		raw = name
	}
	normalized := gosimpleslug.Make(raw)
	if normalized == "" {
		return nil, domain.ErrInvalidSlug
	}

	now := s.clock.Now()
	provider := &domain.Provider{
		ID:            s.genID.Generate(),
		Name:          name,
		Slug:          normalized,
		Priority:      req.Priority,
		IsActive:      true,
		CircuitState:  domain.CircuitClosed,
		SuccessRate:   100,
		EndpointRef:   strings.TrimSpace(req.EndpointRef),
		CredentialRef: strings.TrimSpace(req.CredentialRef),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, s.db, provider); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	s.log.Info("provider registered",
		zap.String("slug", provider.Slug),
		zap.Int("priority", provider.Priority),
	)
	return provider, nil
}

func (s *Service) List(ctx context.Context) ([]domain.EligibleProvider, error) {
	providers, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return s.annotate(providers), nil
}

func (s *Service) ListEligible(ctx context.Context) ([]domain.EligibleProvider, error) {
	providers, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	annotated := s.annotate(providers)
	eligible := annotated[:0]
	for _, p := range annotated {
		if p.EffectiveState == domain.CircuitOpen {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].Slug < eligible[j].Slug
	})

	return eligible, nil
}

func (s *Service) RecordSuccess(ctx context.Context, slug string) error {
	found, err := s.repo.RecordSuccess(ctx, s.db, slug, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) RecordFailure(ctx context.Context, slug string, cause error) error {
	found, err := s.repo.RecordFailure(ctx, s.db, slug, s.breaker.FailureThreshold, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}

	after, err := s.repo.FindBySlug(ctx, s.db, slug)
	if err != nil {
		s.log.Warn("provider state read-back failed", zap.String("slug", slug), zap.Error(err))
		return nil
	}
	if after != nil && after.CircuitState == domain.CircuitOpen && after.ConsecutiveFailures >= s.breaker.FailureThreshold {
		s.log.Warn("provider circuit opened",
			zap.String("slug", slug),
			zap.Int("consecutive_failures", after.ConsecutiveFailures),
			zap.NamedError("cause", cause),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCircuitOpened(ctx, slug)
		}
	}
	return nil
}

func (s *Service) ClaimHalfOpenTrial(ctx context.Context, slug string) (bool, error) {
	now := s.clock.Now()
	return s.repo.ClaimHalfOpenTrial(ctx, s.db, slug, now.Add(-s.breaker.Cooldown), now)
}

func (s *Service) SetActive(ctx context.Context, slug string, isActive bool) error {
	found, err := s.repo.SetActive(ctx, s.db, slug, isActive, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	s.log.Info("provider active flag updated", zap.String("slug", slug), zap.Bool("is_active", isActive))
	return nil
}

func (s *Service) UpdatePriority(ctx context.Context, slug string, priority int) error {
	if priority < 0 {
		return domain.ErrInvalidPriority
	}
	found, err := s.repo.UpdatePriority(ctx, s.db, slug, priority, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ResetCircuit(ctx context.Context, slug string) error {
	found, err := s.repo.ResetCircuit(ctx, s.db, slug, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	s.log.Info("provider circuit manually reset", zap.String("slug", slug))
	return nil
}

func (s *Service) annotate(providers []domain.Provider) []domain.EligibleProvider {
	now := s.clock.Now()
	out := make([]domain.EligibleProvider, 0, len(providers))
	for _, p := range providers {
		out = append(out, domain.EligibleProvider{
			Provider:       p,
			EffectiveState: domain.EffectiveCircuitState(p.CircuitState, p.LastFailureAt, now, s.breaker),
		})
	}
	return out
}
