package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/fulfillment"
	"github.com/simbridge/simbridge/internal/fulfillment/adapters"
	fdomain "github.com/simbridge/simbridge/internal/fulfillment/domain"
	"github.com/simbridge/simbridge/internal/lock"
	"github.com/simbridge/simbridge/internal/notify"
	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	orderrepository "github.com/simbridge/simbridge/internal/order/repository"
	orderservice "github.com/simbridge/simbridge/internal/order/service"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
	providerrepository "github.com/simbridge/simbridge/internal/provider/repository"
	providerservice "github.com/simbridge/simbridge/internal/provider/service"
	"github.com/simbridge/simbridge/internal/webhook"
	"github.com/simbridge/simbridge/internal/webhook/domain"
	"github.com/simbridge/simbridge/internal/webhook/repository"
	"github.com/simbridge/simbridge/internal/webhook/service"
	"github.com/simbridge/simbridge/internal/webhook/signature"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const signingSecret = "whsec_test_secret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE providers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			circuit_state TEXT NOT NULL DEFAULT 'closed',
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 100,
			half_open_trial BOOLEAN NOT NULL DEFAULT FALSE,
			last_success_at TIMESTAMP,
			last_failure_at TIMESTAMP,
			endpoint_ref TEXT NOT NULL DEFAULT '',
			credential_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_providers_slug ON providers(slug)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			payment_reference TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			product_ref TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			correlation_id TEXT NOT NULL,
			provider_used TEXT,
			artifacts TEXT,
			failure_ledger TEXT,
			error_detail TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			failed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_orders_payment_reference ON orders(payment_reference)`,
		`CREATE TABLE webhook_inbox (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE TABLE locks (
			name TEXT PRIMARY KEY,
			holder_id TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

// scriptedAdapter fails with the queued errors in order, then succeeds.
type scriptedAdapter struct {
	slug  string
	errs  []error
	calls int
}

func (a *scriptedAdapter) Slug() string { return a.slug }

func (a *scriptedAdapter) Purchase(ctx context.Context, req fdomain.PurchaseRequest) (*fdomain.PurchaseResult, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	return &fdomain.PurchaseResult{Artifacts: fdomain.Artifacts{
		ICCID:          "8988303000000000001",
		SMDPAddress:    "smdp.example.com",
		ActivationCode: "LPA:1$smdp.example.com$ABC123",
	}}, nil
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) bool { return true }

type harness struct {
	db      *gorm.DB
	clk     *clock.FakeClock
	repo    domain.Repository
	service domain.Service
	drainer *webhook.Drainer
	orders  orderdomain.Service
	adapter *scriptedAdapter
	genID   *snowflake.Node
}

func newHarness(t *testing.T, inline bool) *harness {
	t.Helper()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	log := zap.NewNop()

	node, err := snowflake.NewNode(15)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	registry := providerservice.New(providerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  providerrepository.Provide(),
		Breaker: providerdomain.BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
	})
	if _, err := registry.Create(context.Background(), providerdomain.CreateRequest{Name: "Sandbox", Priority: 10}); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	orders := orderservice.New(orderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  orderrepository.Provide(),
	})

	adapter := &scriptedAdapter{slug: "sandbox"}
	orch := fulfillment.NewOrchestrator(fulfillment.OrchestratorParams{
		Log:      log,
		Registry: registry,
		Adapters: adapters.NewRegistry(adapter),
		Retry: fulfillment.RetryConfig{
			MaxAttempts:  3,
			BaseInterval: time.Millisecond,
			MaxInterval:  time.Millisecond,
		},
	})
	coordinator := fulfillment.NewCoordinator(fulfillment.CoordinatorParams{
		Log:          log,
		Orders:       orders,
		Registry:     registry,
		Orchestrator: orch,
		Notifier:     notify.NoOpNotifier{},
		Config:       fulfillment.CoordinatorConfig{Timeout: 10 * time.Second},
	})

	repo := repository.Provide()
	svc := service.New(service.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Config: config.Config{
			WebhookSigningSecret:      signingSecret,
			WebhookSignatureTolerance: 5 * time.Minute,
			WebhookInlineFulfillment:  inline,
		},
		Repo:        repo,
		Orders:      orders,
		Coordinator: coordinator,
	})

	locks := lock.New(lock.Params{DB: db, Log: log, Clock: clk})
	drainer := webhook.NewDrainer(webhook.DrainerParams{
		DB:       db,
		Log:      log,
		Clock:    clk,
		Repo:     repo,
		Service:  svc,
		Locks:    locks,
		Notifier: notify.NoOpNotifier{},
		Config: webhook.DrainConfig{
			PollInterval: time.Minute,
			MinAge:       time.Minute,
			MaxRetries:   3,
			LockTTL:      time.Minute,
			BatchSize:    10,
		},
	})

	return &harness{
		db:      db,
		clk:     clk,
		repo:    repo,
		service: svc,
		drainer: drainer,
		orders:  orders,
		adapter: adapter,
		genID:   node,
	}
}

func (h *harness) signedHeaders(payload []byte) http.Header {
	headers := http.Header{}
	headers.Set(signature.Header, signature.BuildHeader(signingSecret, payload, h.clk.Now().Unix()))
	return headers
}

func confirmedPayload(reference string) []byte {
	return []byte(fmt.Sprintf(
		`{"event_type":"payment.confirmed","payment_reference":%q,"customer_email":"traveler@example.com","product_ref":"esim-eu-5gb","amount":1999,"currency":"USD"}`,
		reference,
	))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	payload := confirmedPayload("pi_sig")
	headers := http.Header{}
	headers.Set(signature.Header, signature.BuildHeader("whsec_wrong", payload, h.clk.Now().Unix()))

	if _, err := h.service.IngestWebhook(ctx, payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// A rejected delivery leaves nothing behind.
	var orderCount int64
	if err := h.db.Model(&orderdomain.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("rejected webhook must not create orders, got %d", orderCount)
	}
}

func TestIngestRejectsUnsupportedEventType(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	payload := []byte(`{"event_type":"payment.failed","payment_reference":"pi_x","customer_email":"a@b.c","product_ref":"p","amount":1,"currency":"USD"}`)
	if _, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestIngestInlineFulfillsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	payload := confirmedPayload("pi_inline")
	result, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Parked || result.Duplicate {
		t.Fatalf("inline success must not park, got %+v", result)
	}

	order, err := h.orders.FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != orderdomain.StatusCompleted {
		t.Fatalf("expected completed, got %s", order.Status)
	}
	if order.ProviderUsed == nil || *order.ProviderUsed != "sandbox" {
		t.Fatalf("provider_used not recorded: %+v", order.ProviderUsed)
	}
	if h.adapter.calls != 1 {
		t.Fatalf("expected one purchase, got %d", h.adapter.calls)
	}
}

func TestIngestDuplicateForSettledOrderShortCircuits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	payload := confirmedPayload("pi_dup")
	first, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	second, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !second.Duplicate || second.Parked {
		t.Fatalf("redelivery must be a duplicate no-op, got %+v", second)
	}
	if second.OrderID != first.OrderID {
		t.Fatalf("duplicate must reference the original order")
	}
	// The provider was charged exactly once.
	if h.adapter.calls != 1 {
		t.Fatalf("redelivery must never re-purchase, got %d calls", h.adapter.calls)
	}
}

func TestIngestDuplicateWhileFulfillmentInFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	// Another instance has claimed the order and its provider call is still
	// in flight. Gateways redeliver exactly in this window, because the slow
	// handler looks like a failed delivery.
	order, _, err := h.orders.FindOrCreate(ctx, orderdomain.FindOrCreateRequest{
		PaymentReference: "pi_inflight",
		CustomerEmail:    "traveler@example.com",
		ProductRef:       "esim-eu-5gb",
		Amount:           1999,
		Currency:         "USD",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := h.orders.Transition(ctx, order.ID, orderdomain.StatusFulfillmentStarted, orderdomain.TransitionFields{}); err != nil {
		t.Fatalf("claim order: %v", err)
	}

	payload := confirmedPayload("pi_inflight")
	result, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Duplicate || result.Parked {
		t.Fatalf("redelivery for a claimed order must short-circuit, got %+v", result)
	}
	if h.adapter.calls != 0 {
		t.Fatalf("redelivery must not start a second purchase, got %d calls", h.adapter.calls)
	}

	// The drain re-entry path takes the same short circuit.
	if err := h.service.ProcessEvent(ctx, &domain.PaymentEvent{
		PaymentReference: "pi_inflight",
		CustomerEmail:    "traveler@example.com",
		ProductRef:       "esim-eu-5gb",
		Amount:           1999,
		Currency:         "USD",
	}, order.CorrelationID); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if h.adapter.calls != 0 {
		t.Fatalf("drain re-entry must not start a second purchase, got %d calls", h.adapter.calls)
	}

	got, err := h.orders.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if got.Status != orderdomain.StatusFulfillmentStarted {
		t.Fatalf("claimed order must stay with its owner, got %s", got.Status)
	}
}

func TestIngestParksWhenInlineDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	payload := confirmedPayload("pi_park")
	result, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Parked {
		t.Fatalf("with inline disabled every event parks, got %+v", result)
	}
	if h.adapter.calls != 0 {
		t.Fatalf("parking must not touch a provider, got %d calls", h.adapter.calls)
	}

	pending, err := h.service.ListEntries(ctx, domain.InboxPending, 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != domain.EventTypePaymentConfirmed {
		t.Fatalf("expected one pending inbox entry, got %+v", pending)
	}
}

func TestDrainProcessesParkedEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	payload := confirmedPayload("pi_drain")
	result, err := h.service.IngestWebhook(ctx, payload, h.signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Too young for the drain: the minimum age shields in-flight inline work.
	if err := h.drainer.RunOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if h.adapter.calls != 0 {
		t.Fatal("drain must skip entries younger than the minimum age")
	}

	h.clk.Advance(2 * time.Minute)
	if err := h.drainer.RunOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	order, err := h.orders.FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != orderdomain.StatusCompleted {
		t.Fatalf("drained entry must complete the order, got %s", order.Status)
	}

	completed, err := h.service.ListEntries(ctx, domain.InboxCompleted, 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(completed) != 1 || completed[0].ProcessedAt == nil {
		t.Fatalf("expected one completed entry with processed_at, got %+v", completed)
	}
}

func TestDrainDeadLettersAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	// A payload that passed the signature but cannot be processed: the
	// validation error is permanent, so every drain attempt burns a retry.
	entry := &domain.InboxEntry{
		ID:            h.genID.Generate(),
		EventType:     domain.EventTypePaymentConfirmed,
		CorrelationID: "01J8TESTCORRELATION",
		Payload:       []byte(`{"customer_email":"traveler@example.com"}`),
		Status:        domain.InboxPending,
		CreatedAt:     h.clk.Now(),
		UpdatedAt:     h.clk.Now(),
	}
	if err := h.repo.Create(ctx, h.db, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	// Three failures stay pending, the fourth crosses max retries and parks
	// the entry for good.
	for run := 1; run <= 4; run++ {
		h.clk.Advance(2 * time.Minute)
		if err := h.drainer.RunOnce(ctx); err != nil {
			t.Fatalf("drain run %d: %v", run, err)
		}

		got, err := h.repo.FindByID(ctx, h.db, entry.ID)
		if err != nil {
			t.Fatalf("find entry: %v", err)
		}
		if got.RetryCount != run {
			t.Fatalf("run %d: expected retry_count %d, got %d", run, run, got.RetryCount)
		}
		want := domain.InboxPending
		if run == 4 {
			want = domain.InboxFailed
		}
		if got.Status != want {
			t.Fatalf("run %d: expected %s, got %s", run, want, got.Status)
		}
		if got.LastError == nil || *got.LastError == "" {
			t.Fatalf("run %d: last_error must be recorded", run)
		}
	}

	// Dead entries are off the drain's plate until an operator redrives.
	h.clk.Advance(2 * time.Minute)
	if err := h.drainer.RunOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, _ := h.repo.FindByID(ctx, h.db, entry.ID)
	if got.RetryCount != 4 || got.Status != domain.InboxFailed {
		t.Fatalf("dead entry must stay parked, got %s/%d", got.Status, got.RetryCount)
	}
}

func TestRedriveResetsFailedEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	entry := &domain.InboxEntry{
		ID:            h.genID.Generate(),
		EventType:     domain.EventTypePaymentConfirmed,
		CorrelationID: "01J8TESTCORRELATION",
		Payload:       confirmedPayload("pi_redrive"),
		Status:        domain.InboxPending,
		CreatedAt:     h.clk.Now(),
		UpdatedAt:     h.clk.Now(),
	}
	if err := h.repo.Create(ctx, h.db, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	// A pending entry is not redrivable.
	if err := h.service.Redrive(ctx, entry.ID); !errors.Is(err, domain.ErrEntryNotFailed) {
		t.Fatalf("expected ErrEntryNotFailed, got %v", err)
	}
	if err := h.service.Redrive(ctx, h.genID.Generate()); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}

	if err := h.db.Model(&domain.InboxEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{"status": domain.InboxFailed, "retry_count": 4, "last_error": "missing_webhook_field"}).Error; err != nil {
		t.Fatalf("park entry: %v", err)
	}

	if err := h.service.Redrive(ctx, entry.ID); err != nil {
		t.Fatalf("redrive: %v", err)
	}
	got, err := h.repo.FindByID(ctx, h.db, entry.ID)
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	if got.Status != domain.InboxPending || got.RetryCount != 0 || got.LastError != nil {
		t.Fatalf("redrive must reset the entry, got %+v", got)
	}

	// The redriven entry flows through the drain like any other.
	h.clk.Advance(2 * time.Minute)
	if err := h.drainer.RunOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, _ = h.repo.FindByID(ctx, h.db, entry.ID)
	if got.Status != domain.InboxCompleted {
		t.Fatalf("expected completed after redrive, got %s", got.Status)
	}
}
