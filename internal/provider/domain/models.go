package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CircuitState is the persisted breaker state of a fulfillment provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Provider is a third-party eSIM fulfillment vendor. Circuit columns are
// mutated only through the breaker writes in the repository; operator writes
// touch name, priority, is_active and the opaque endpoint references.
type Provider struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	Name                string       `json:"name" gorm:"type:text;not null"`
	Slug                string       `json:"slug" gorm:"type:text;not null;uniqueIndex:ux_providers_slug"`
	Priority            int          `json:"priority" gorm:"not null;default:0"`
	IsActive            bool         `json:"is_active" gorm:"not null;default:true"`
	CircuitState        CircuitState `json:"circuit_state" gorm:"type:text;not null;default:closed"`
	ConsecutiveFailures int          `json:"consecutive_failures" gorm:"not null;default:0"`
	SuccessRate         float64      `json:"success_rate" gorm:"not null;default:100"`
	HalfOpenTrial       bool         `json:"half_open_trial" gorm:"not null;default:false"`
	LastSuccessAt       *time.Time   `json:"last_success_at"`
	LastFailureAt       *time.Time   `json:"last_failure_at"`
	EndpointRef         string       `json:"endpoint_ref" gorm:"type:text;not null;default:''"`
	CredentialRef       string       `json:"credential_ref" gorm:"type:text;not null;default:''"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Provider) TableName() string { return "providers" }

// EligibleProvider is a provider admitted for a purchase attempt together
// with its effective circuit state at selection time.
type EligibleProvider struct {
	Provider
	EffectiveState CircuitState `json:"effective_state"`
}
