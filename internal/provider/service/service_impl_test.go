package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/simbridge/simbridge/internal/clock"
	"github.com/simbridge/simbridge/internal/provider/domain"
	"github.com/simbridge/simbridge/internal/provider/repository"
	"github.com/simbridge/simbridge/internal/provider/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

func newRegistry(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
		Breaker: domain.BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
	})
}

func mustCreate(t *testing.T, svc domain.Service, name string, priority int) *domain.Provider {
	t.Helper()
	p, err := svc.Create(context.Background(), domain.CreateRequest{Name: name, Priority: priority})
	if err != nil {
		t.Fatalf("create provider %s: %v", name, err)
	}
	return p
}

func TestCreateNormalizesSlugAndRejectsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	svc := newRegistry(t, db, clock.NewFakeClock(time.Now()))

	p, err := svc.Create(context.Background(), domain.CreateRequest{Name: "Global eSIM Co", Priority: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Slug != "global-esim-co" {
		t.Fatalf("expected normalized slug, got %q", p.Slug)
	}

	_, err = svc.Create(context.Background(), domain.CreateRequest{Name: "Global eSIM Co"})
	if !errors.Is(err, domain.ErrDuplicateSlug) {
		t.Fatalf("expected ErrDuplicateSlug, got %v", err)
	}
}

func TestCircuitOpensAtThresholdAndLeavesEligibleList(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	svc := newRegistry(t, db, clk)

	p1 := mustCreate(t, svc, "Primary", 100)
	mustCreate(t, svc, "Backup", 50)

	cause := errors.New("upstream_error: 502")
	for i := 0; i < 4; i++ {
		if err := svc.RecordFailure(ctx, p1.Slug, cause); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}

	eligible, err := svc.ListEligible(ctx)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("below threshold the provider must stay eligible, got %d providers", len(eligible))
	}
	if eligible[0].Slug != p1.Slug {
		t.Fatalf("expected priority ordering with %s first, got %s", p1.Slug, eligible[0].Slug)
	}

	// Fifth consecutive failure trips the breaker.
	if err := svc.RecordFailure(ctx, p1.Slug, cause); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	eligible, err = svc.ListEligible(ctx)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Slug != "backup" {
		t.Fatalf("open circuit must be excluded, got %+v", eligible)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range all {
		if p.Slug != p1.Slug {
			continue
		}
		if p.CircuitState != domain.CircuitOpen || p.ConsecutiveFailures != 5 {
			t.Fatalf("expected open with 5 failures, got %s/%d", p.CircuitState, p.ConsecutiveFailures)
		}
	}
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	svc := newRegistry(t, db, clk)

	p := mustCreate(t, svc, "Primary", 100)
	cause := errors.New("timeout: connect")
	for i := 0; i < 5; i++ {
		if err := svc.RecordFailure(ctx, p.Slug, cause); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	// Still cooling down: no trial.
	if claimed, _ := svc.ClaimHalfOpenTrial(ctx, p.Slug); claimed {
		t.Fatal("claim must fail before the cooldown elapses")
	}

	clk.Advance(31 * time.Second)

	eligible, err := svc.ListEligible(ctx)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].EffectiveState != domain.CircuitHalfOpen {
		t.Fatalf("expected half-open candidate after cooldown, got %+v", eligible)
	}

	first, err := svc.ClaimHalfOpenTrial(ctx, p.Slug)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	second, err := svc.ClaimHalfOpenTrial(ctx, p.Slug)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !first || second {
		t.Fatalf("exactly one claim must win, got first=%v second=%v", first, second)
	}
}

func TestTrialOutcomeMovesCircuit(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	svc := newRegistry(t, db, clk)

	p := mustCreate(t, svc, "Primary", 100)
	cause := errors.New("timeout: connect")
	for i := 0; i < 5; i++ {
		if err := svc.RecordFailure(ctx, p.Slug, cause); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	clk.Advance(31 * time.Second)

	if claimed, _ := svc.ClaimHalfOpenTrial(ctx, p.Slug); !claimed {
		t.Fatal("claim should win after cooldown")
	}

	// Failed trial reopens immediately, below-threshold count notwithstanding.
	if err := svc.RecordFailure(ctx, p.Slug, cause); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	all, _ := svc.List(ctx)
	if all[0].CircuitState != domain.CircuitOpen {
		t.Fatalf("failed trial must reopen, got %s", all[0].CircuitState)
	}
	if all[0].HalfOpenTrial {
		t.Fatal("trial flag must clear on failure")
	}

	// Another cooldown, another trial, this time successful.
	clk.Advance(31 * time.Second)
	if claimed, _ := svc.ClaimHalfOpenTrial(ctx, p.Slug); !claimed {
		t.Fatal("claim should win after second cooldown")
	}
	if err := svc.RecordSuccess(ctx, p.Slug); err != nil {
		t.Fatalf("record success: %v", err)
	}

	all, _ = svc.List(ctx)
	if all[0].CircuitState != domain.CircuitClosed || all[0].ConsecutiveFailures != 0 {
		t.Fatalf("successful trial must close and reset, got %s/%d", all[0].CircuitState, all[0].ConsecutiveFailures)
	}
}

func TestSuccessRateIsExponentialMovingAverage(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newRegistry(t, db, clock.NewFakeClock(time.Now()))

	p := mustCreate(t, svc, "Primary", 100)

	if err := svc.RecordFailure(ctx, p.Slug, errors.New("upstream_error: 500")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	all, _ := svc.List(ctx)
	if got := all[0].SuccessRate; got < 79.9 || got > 80.1 {
		t.Fatalf("expected ~80 after one failure from 100, got %f", got)
	}

	if err := svc.RecordSuccess(ctx, p.Slug); err != nil {
		t.Fatalf("record success: %v", err)
	}
	all, _ = svc.List(ctx)
	if got := all[0].SuccessRate; got < 83.9 || got > 84.1 {
		t.Fatalf("expected ~84 after recovery sample, got %f", got)
	}
}

func TestResetCircuitAndOperatorKnobs(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newRegistry(t, db, clock.NewFakeClock(time.Now()))

	p := mustCreate(t, svc, "Primary", 100)
	for i := 0; i < 5; i++ {
		if err := svc.RecordFailure(ctx, p.Slug, errors.New("out_of_stock: sku")); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	if err := svc.ResetCircuit(ctx, p.Slug); err != nil {
		t.Fatalf("reset: %v", err)
	}
	all, _ := svc.List(ctx)
	if all[0].CircuitState != domain.CircuitClosed || all[0].ConsecutiveFailures != 0 {
		t.Fatalf("reset must close and zero the count, got %s/%d", all[0].CircuitState, all[0].ConsecutiveFailures)
	}

	if err := svc.SetActive(ctx, p.Slug, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	eligible, _ := svc.ListEligible(ctx)
	if len(eligible) != 0 {
		t.Fatalf("deactivated provider must not be eligible, got %+v", eligible)
	}

	if err := svc.UpdatePriority(ctx, "missing", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
