package notify

import (
	"context"

	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	webhookdomain "github.com/simbridge/simbridge/internal/webhook/domain"
)

// Notifier is invoked after terminal order transitions and for permanently
// failed inbox entries. Implementations must be side-effect only: a notify
// failure never rolls back fulfillment state.
type Notifier interface {
	NotifyOrderCompleted(ctx context.Context, order *orderdomain.Order)
	NotifyOrderFailed(ctx context.Context, order *orderdomain.Order, failures map[string]string)
	NotifyInboxEntryDead(ctx context.Context, entry *webhookdomain.InboxEntry)
}

type NoOpNotifier struct{}

func (NoOpNotifier) NotifyOrderCompleted(ctx context.Context, order *orderdomain.Order) {}

func (NoOpNotifier) NotifyOrderFailed(ctx context.Context, order *orderdomain.Order, failures map[string]string) {
}

func (NoOpNotifier) NotifyInboxEntryDead(ctx context.Context, entry *webhookdomain.InboxEntry) {}
