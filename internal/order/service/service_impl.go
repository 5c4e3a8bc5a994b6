package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/order/domain"
	"github.com/simbridge/simbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.ledger"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) FindOrCreate(ctx context.Context, req domain.FindOrCreateRequest) (*domain.Order, bool, error) {
	reference := strings.TrimSpace(req.PaymentReference)
	if reference == "" {
		return nil, false, domain.ErrInvalidReference
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" || !strings.Contains(email, "@") {
		return nil, false, domain.ErrInvalidContact
	}
	productRef := strings.TrimSpace(req.ProductRef)
	if productRef == "" {
		return nil, false, domain.ErrInvalidProduct
	}
	if req.Amount <= 0 {
		return nil, false, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, false, domain.ErrInvalidCurrency
	}

	existing, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = ulid.Make().String()
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:               s.genID.Generate(),
		PaymentReference: reference,
		CustomerEmail:    email,
		ProductRef:       productRef,
		Amount:           req.Amount,
		Currency:         currency,
		Status:           domain.StatusPending,
		CorrelationID:    correlationID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, s.db, order); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, false, err
		}
		// Lost the creation race: the uniqueness guard let exactly one
		// concurrent webhook delivery win. Fall back to the winner's row.
		winner, lookupErr := s.repo.FindByReference(ctx, s.db, reference)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if winner == nil {
			return nil, false, err
		}
		return winner, true, nil
	}

	s.log.Info("order created",
		zap.String("payment_reference", reference),
		zap.String("order_id", order.ID.String()),
		zap.String("correlation_id", correlationID),
	)
	return order, false, nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, newStatus domain.Status, fields domain.TransitionFields) (*domain.Order, error) {
	if newStatus == domain.StatusRefunded {
		return nil, domain.ErrIllegalTransition
	}
	return s.transition(ctx, id, newStatus, fields)
}

func (s *Service) Refund(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Terminal() || order.Status == domain.StatusRefunded {
		return nil, domain.ErrNotTerminal
	}
	return s.transition(ctx, id, domain.StatusRefunded, domain.TransitionFields{})
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, newStatus domain.Status, fields domain.TransitionFields) (*domain.Order, error) {
	priors := newStatus.PriorStatuses()
	if len(priors) == 0 {
		return nil, domain.ErrInvalidStatus
	}

	moved, err := s.repo.Transition(ctx, s.db, id, newStatus, priors, fields, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !moved {
		current, lookupErr := s.repo.FindByID(ctx, s.db, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if current == nil {
			return nil, domain.ErrNotFound
		}
		// Backward moves are programming errors and must surface loudly,
		// never degrade into a silent no-op.
		s.log.Error("illegal order transition rejected",
			zap.String("order_id", id.String()),
			zap.String("current_status", string(current.Status)),
			zap.String("requested_status", string(newStatus)),
		)
		return nil, domain.ErrIllegalTransition
	}

	updated, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrNotFound
	}
	return updated, nil
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) FindByReference(ctx context.Context, reference string) (*domain.Order, error) {
	order, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) ListStaleFulfillmentStarted(ctx context.Context, staleAge time.Duration, limit int) ([]domain.Order, error) {
	cutoff := s.clock.Now().Add(-staleAge)
	return s.repo.ListStaleFulfillmentStarted(ctx, s.db, cutoff, limit)
}
