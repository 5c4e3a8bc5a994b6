package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the order lifecycle state. Transitions are forward-only per
// statusRank; refund is the single operator-driven exception.
type Status string

const (
	StatusPending            Status = "pending"
	StatusPaymentReceived    Status = "payment_received"
	StatusFulfillmentStarted Status = "fulfillment_started"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusProviderFailed     Status = "provider_failed"
	StatusRefunded           Status = "refunded"
)

var statusRank = map[Status]int{
	StatusPending:            0,
	StatusPaymentReceived:    1,
	StatusFulfillmentStarted: 2,
	StatusCompleted:          3,
	StatusFailed:             3,
	StatusProviderFailed:     3,
	StatusRefunded:           4,
}

// Rank returns the position of s in the forward-only ordering, or -1 for an
// unknown status.
func (s Status) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusProviderFailed, StatusRefunded:
		return true
	}
	return false
}

// PriorStatuses lists every status a row may hold for a move into s to be
// legal. Used as the guard of the conditional transition UPDATE.
func (s Status) PriorStatuses() []Status {
	target := s.Rank()
	if target <= 0 {
		return nil
	}
	var priors []Status
	for status, rank := range statusRank {
		if rank >= target {
			continue
		}
		if s != StatusRefunded && status.Terminal() {
			continue
		}
		// Refund applies to terminal states only.
		if s == StatusRefunded && !status.Terminal() {
			continue
		}
		priors = append(priors, status)
	}
	return priors
}

// Order is the durable record of one paid purchase. Rows are never deleted;
// failed orders keep their per-provider ledger for the operator view.
type Order struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentReference string         `json:"payment_reference" gorm:"type:text;not null;uniqueIndex:ux_orders_payment_reference"`
	CustomerEmail    string         `json:"customer_email" gorm:"type:text;not null"`
	ProductRef       string         `json:"product_ref" gorm:"type:text;not null"`
	Amount           int64          `json:"amount" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null"`
	Status           Status         `json:"status" gorm:"type:text;not null;default:pending;index"`
	CorrelationID    string         `json:"correlation_id" gorm:"type:text;not null"`
	ProviderUsed     *string        `json:"provider_used,omitempty" gorm:"type:text"`
	Artifacts        datatypes.JSON `json:"artifacts,omitempty" gorm:"type:jsonb"`
	FailureLedger    datatypes.JSON `json:"failure_ledger,omitempty" gorm:"type:jsonb"`
	ErrorDetail      *string        `json:"error_detail,omitempty" gorm:"type:text"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	FailedAt         *time.Time     `json:"failed_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

// TransitionFields carries the columns a status move may set alongside the
// status itself.
type TransitionFields struct {
	ProviderUsed  *string
	Artifacts     datatypes.JSON
	FailureLedger datatypes.JSON
	ErrorDetail   *string
}
