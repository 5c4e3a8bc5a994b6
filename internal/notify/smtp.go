package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	orderdomain "github.com/simbridge/simbridge/internal/order/domain"
	webhookdomain "github.com/simbridge/simbridge/internal/webhook/domain"
	"go.uber.org/zap"
)

// Config configures the SMTP notifier.
type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	OpsRecipient string
}

// SMTPNotifier mails the customer on completion and the operations inbox on
// failures. Errors are logged and swallowed: fulfillment state never depends
// on a mail server.
type SMTPNotifier struct {
	cfg Config
	log *zap.Logger
}

func NewSMTP(cfg Config, log *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, log: log.Named("notify.smtp")}
}

func (n *SMTPNotifier) NotifyOrderCompleted(ctx context.Context, order *orderdomain.Order) {
	if order == nil {
		return
	}
	var artifacts map[string]any
	_ = json.Unmarshal(order.Artifacts, &artifacts)

	body := fmt.Sprintf(
		"<p>Your eSIM is ready.</p><p>Order: %s</p><p>Activation code: %v</p>",
		order.ID.String(), artifacts["activation_code"],
	)
	n.send(order.CustomerEmail, "Your eSIM is ready", body, order.CorrelationID)
}

func (n *SMTPNotifier) NotifyOrderFailed(ctx context.Context, order *orderdomain.Order, failures map[string]string) {
	if order == nil || n.cfg.OpsRecipient == "" {
		return
	}

	slugs := make([]string, 0, len(failures))
	for slug := range failures {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<p>Order %s could not be fulfilled (correlation %s).</p><ul>",
		order.ID.String(), order.CorrelationID)
	for _, slug := range slugs {
		fmt.Fprintf(&sb, "<li><b>%s</b>: %s</li>", slug, failures[slug])
	}
	sb.WriteString("</ul>")

	n.send(n.cfg.OpsRecipient, "eSIM order fulfillment exhausted all providers", sb.String(), order.CorrelationID)
}

func (n *SMTPNotifier) NotifyInboxEntryDead(ctx context.Context, entry *webhookdomain.InboxEntry) {
	if entry == nil || n.cfg.OpsRecipient == "" {
		return
	}
	lastErr := ""
	if entry.LastError != nil {
		lastErr = *entry.LastError
	}
	body := fmt.Sprintf(
		"<p>Webhook inbox entry %s exceeded its retry budget.</p><p>Retries: %d</p><p>Last error: %s</p>",
		entry.ID.String(), entry.RetryCount, lastErr,
	)
	n.send(n.cfg.OpsRecipient, "Webhook inbox entry permanently failed", body, entry.CorrelationID)
}

func (n *SMTPNotifier) send(to, subject, htmlBody, correlationID string) {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to, subject, mime, htmlBody))

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{to}, msg); err != nil {
		n.log.Warn("notification send failed",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
}
