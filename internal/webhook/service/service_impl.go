package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/fulfillment"
	fulfillmentdomain "github.com/simbridge/simbridge/internal/fulfillment/domain"
	obsmetrics "github.com/simbridge/simbridge/internal/observability/metrics"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	"github.com/simbridge/simbridge/internal/webhook/domain"
	"github.com/simbridge/simbridge/internal/webhook/signature"
	"github.com/simbridge/simbridge/pkg/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Orders      orderdomain.Service
	Coordinator *fulfillment.Coordinator
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	orders      orderdomain.Service
	coordinator *fulfillment.Coordinator
	obsMetrics  *obsmetrics.Metrics

	signingSecret      string
	signatureTolerance time.Duration
	inline             bool
}

func New(p Params) domain.Service {
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("webhook.ingest"),
		genID:              p.GenID,
		clock:              p.Clock,
		repo:               p.Repo,
		orders:             p.Orders,
		coordinator:        p.Coordinator,
		obsMetrics:         p.ObsMetrics,
		signingSecret:      p.Config.WebhookSigningSecret,
		signatureTolerance: p.Config.WebhookSignatureTolerance,
		inline:             p.Config.WebhookInlineFulfillment,
	}
}

// eventEnvelope is the wire shape of a gateway delivery: an event type plus
// the payment fields.
type eventEnvelope struct {
	EventType string `json:"event_type"`
	domain.PaymentEvent
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.IngestResult, error) {
	now := s.clock.Now()

	err := signature.Verify(
		s.signingSecret,
		payload,
		headers.Get(signature.Header),
		now,
		s.signatureTolerance,
	)
	if err != nil {
		s.recordEvent(ctx, "rejected_signature")
		s.log.Warn("webhook rejected, bad signature")
		return nil, err
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.recordEvent(ctx, "rejected_payload")
		return nil, domain.ErrInvalidPayload
	}
	if envelope.EventType != domain.EventTypePaymentConfirmed {
		s.recordEvent(ctx, "rejected_event_type")
		s.log.Warn("webhook rejected, unsupported event type",
			zap.String("event_type", envelope.EventType),
		)
		return nil, domain.ErrInvalidPayload
	}
	if err := validateEvent(&envelope.PaymentEvent); err != nil {
		s.recordEvent(ctx, "rejected_payload")
		return nil, err
	}

	order, duplicate, err := s.orders.FindOrCreate(ctx, orderdomain.FindOrCreateRequest{
		PaymentReference: envelope.PaymentReference,
		CustomerEmail:    envelope.CustomerEmail,
		ProductRef:       envelope.ProductRef,
		Amount:           envelope.Amount,
		Currency:         envelope.Currency,
		CorrelationID:    correlation.Extract(ctx),
	})
	if err != nil {
		return nil, err
	}

	result := &domain.IngestResult{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		Duplicate:     duplicate,
	}

	// A redelivery for an order at or beyond fulfillment_started must never
	// reach a provider: the instance that claimed the order may still have a
	// purchase in flight, and stuck orders belong to the reconciler. Earlier
	// duplicates are a free retry of the same work.
	if duplicate && fulfillmentClaimed(order.Status) {
		s.recordEvent(ctx, "duplicate")
		s.log.Info("webhook duplicate for claimed order",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
			zap.String("correlation_id", order.CorrelationID),
		)
		return result, nil
	}

	if !s.inline {
		if err := s.park(ctx, &envelope, payload, order.CorrelationID); err != nil {
			return nil, err
		}
		result.Parked = true
		s.recordEvent(ctx, "parked")
		return result, nil
	}

	if _, err := s.coordinator.Fulfill(ctx, order.ID); err != nil {
		if errors.Is(err, fulfillmentdomain.ErrFulfillmentTimeout) {
			// The reconciliation pass owns orders left in fulfillment_started;
			// parking the event too would double the retry pressure.
			s.recordEvent(ctx, "accepted")
			return result, nil
		}
		s.log.Warn("inline fulfillment failed, parking event for the drain",
			zap.String("order_id", order.ID.String()),
			zap.String("correlation_id", order.CorrelationID),
			zap.Error(err),
		)
		if parkErr := s.park(ctx, &envelope, payload, order.CorrelationID); parkErr != nil {
			return nil, parkErr
		}
		result.Parked = true
		s.recordEvent(ctx, "parked")
		return result, nil
	}

	s.recordEvent(ctx, "accepted")
	return result, nil
}

func (s *Service) ProcessEvent(ctx context.Context, event *domain.PaymentEvent, correlationID string) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	order, duplicate, err := s.orders.FindOrCreate(ctx, orderdomain.FindOrCreateRequest{
		PaymentReference: event.PaymentReference,
		CustomerEmail:    event.CustomerEmail,
		ProductRef:       event.ProductRef,
		Amount:           event.Amount,
		Currency:         event.Currency,
		CorrelationID:    correlationID,
	})
	if err != nil {
		return err
	}
	if duplicate && fulfillmentClaimed(order.Status) {
		return nil
	}

	if _, err := s.coordinator.Fulfill(ctx, order.ID); err != nil {
		if errors.Is(err, fulfillmentdomain.ErrFulfillmentTimeout) {
			// Handed off to reconciliation; the inbox entry is done.
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) Redrive(ctx context.Context, id snowflake.ID) error {
	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return domain.ErrEntryNotFound
	}

	ok, err := s.repo.Redrive(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrEntryNotFailed
	}

	s.log.Info("inbox entry redriven",
		zap.String("entry_id", id.String()),
		zap.String("correlation_id", entry.CorrelationID),
	)
	return nil
}

func (s *Service) ListEntries(ctx context.Context, status domain.InboxStatus, limit int) ([]domain.InboxEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByStatus(ctx, s.db, status, limit)
}

func (s *Service) park(ctx context.Context, envelope *eventEnvelope, payload []byte, correlationID string) error {
	now := s.clock.Now()
	entry := &domain.InboxEntry{
		ID:            s.genID.Generate(),
		EventType:     envelope.EventType,
		CorrelationID: correlationID,
		Payload:       payload,
		Status:        domain.InboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return s.repo.Create(ctx, s.db, entry)
}

func (s *Service) recordEvent(ctx context.Context, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, result)
	}
}

// fulfillmentClaimed reports whether some instance has already taken the
// order past the fulfillment_started claim, terminally or not.
func fulfillmentClaimed(status orderdomain.Status) bool {
	return status.Rank() >= orderdomain.StatusFulfillmentStarted.Rank()
}

func validateEvent(event *domain.PaymentEvent) error {
	if strings.TrimSpace(event.PaymentReference) == "" {
		return domain.ErrMissingField
	}
	if strings.TrimSpace(event.CustomerEmail) == "" {
		return domain.ErrMissingField
	}
	if strings.TrimSpace(event.ProductRef) == "" {
		return domain.ErrMissingField
	}
	if event.Amount <= 0 || strings.TrimSpace(event.Currency) == "" {
		return domain.ErrMissingField
	}
	return nil
}
