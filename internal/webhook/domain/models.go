package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InboxStatus tracks an entry through the retry pipeline.
type InboxStatus string

const (
	InboxPending    InboxStatus = "pending"
	InboxProcessing InboxStatus = "processing"
	InboxCompleted  InboxStatus = "completed"
	InboxFailed     InboxStatus = "failed"
)

const EventTypePaymentConfirmed = "payment.confirmed"

// InboxEntry is a webhook event that could not be (or was not) processed
// inline. pending→processing happens only through an optimistic-locking
// claim; exceeding max retries parks the entry as permanently failed.
type InboxEntry struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventType     string         `json:"event_type" gorm:"type:text;not null"`
	CorrelationID string         `json:"correlation_id" gorm:"type:text;not null"`
	Payload       datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Status        InboxStatus    `json:"status" gorm:"type:text;not null;default:pending;index:ix_webhook_inbox_status_created,priority:1"`
	RetryCount    int            `json:"retry_count" gorm:"not null;default:0"`
	LastError     *string        `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_webhook_inbox_status_created,priority:2"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}

func (InboxEntry) TableName() string { return "webhook_inbox" }

// PaymentEvent is the validated body of a payment-confirmation webhook.
type PaymentEvent struct {
	PaymentReference string `json:"payment_reference"`
	CustomerEmail    string `json:"customer_email"`
	ProductRef       string `json:"product_ref"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}
