package notify

import (
	"github.com/simbridge/simbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Notifier {
	if !cfg.Email.Enabled {
		return NoOpNotifier{}
	}
	return NewSMTP(Config{
		Host:         cfg.Email.SMTPHost,
		Port:         cfg.Email.SMTPPort,
		Username:     cfg.Email.SMTPUsername,
		Password:     cfg.Email.SMTPPassword,
		From:         cfg.Email.SMTPFrom,
		OpsRecipient: cfg.Email.OpsRecipient,
	}, log)
}

var Module = fx.Module("notify",
	fx.Provide(NewFromConfig),
)
