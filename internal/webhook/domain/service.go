package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// Service ingests signed payment webhooks: verify, validate, create the
// order idempotently, then fulfill inline or park the event in the inbox.
type Service interface {
	// IngestWebhook handles one delivery end to end. Signature and
	// validation failures leave no state behind.
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*IngestResult, error)

	// ProcessEvent runs the post-verification pipeline for an already-stored
	// payload; the drain job re-enters here.
	ProcessEvent(ctx context.Context, event *PaymentEvent, correlationID string) error

	// Redrive is the operator re-queue of a permanently failed entry.
	Redrive(ctx context.Context, id snowflake.ID) error

	ListEntries(ctx context.Context, status InboxStatus, limit int) ([]InboxEntry, error)
}

// IngestResult reports what one delivery did.
type IngestResult struct {
	OrderID       snowflake.ID `json:"order_id"`
	CorrelationID string       `json:"correlation_id"`
	Duplicate     bool         `json:"duplicate"`
	Parked        bool         `json:"parked"`
}

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrInvalidPayload   = errors.New("invalid_webhook_payload")
	ErrMissingField     = errors.New("missing_webhook_field")
	ErrEntryNotFound    = errors.New("inbox_entry_not_found")
	ErrEntryNotFailed   = errors.New("inbox_entry_not_failed")
)
