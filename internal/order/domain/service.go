package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service is the order ledger: idempotent creation keyed by payment
// reference, forward-only status transitions.
type Service interface {
	// FindOrCreate returns the existing order for reference when one exists
	// (duplicate=true, caller must short-circuit without re-fulfilling) or
	// creates a new pending order. A creation race is resolved by the store's
	// uniqueness guard: exactly one caller wins, the loser falls back to the
	// winner's row.
	FindOrCreate(ctx context.Context, req FindOrCreateRequest) (order *Order, duplicate bool, err error)

	// Transition rejects any non-forward move with ErrIllegalTransition.
	Transition(ctx context.Context, id snowflake.ID, newStatus Status, fields TransitionFields) (*Order, error)

	// Refund is the operator-only exception moving a terminal order to refunded.
	Refund(ctx context.Context, id snowflake.ID) (*Order, error)

	FindByID(ctx context.Context, id snowflake.ID) (*Order, error)
	FindByReference(ctx context.Context, reference string) (*Order, error)
	ListStaleFulfillmentStarted(ctx context.Context, staleAge time.Duration, limit int) ([]Order, error)
}

type FindOrCreateRequest struct {
	PaymentReference string
	CustomerEmail    string
	ProductRef       string
	Amount           int64
	Currency         string
	CorrelationID    string
}

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidReference  = errors.New("invalid_payment_reference")
	ErrInvalidContact    = errors.New("invalid_customer_contact")
	ErrInvalidProduct    = errors.New("invalid_product_reference")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidStatus     = errors.New("invalid_order_status")
	ErrIllegalTransition = errors.New("illegal_order_transition")
	ErrNotTerminal       = errors.New("order_not_terminal")
)
