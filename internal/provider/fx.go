package provider

import (
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/provider/domain"
	"github.com/simbridge/simbridge/internal/provider/repository"
	"github.com/simbridge/simbridge/internal/provider/service"
	"go.uber.org/fx"
)

func provideBreakerConfig(cfg config.Config) domain.BreakerConfig {
	return domain.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		Cooldown:         cfg.CircuitCooldown,
	}.WithDefaults()
}

var Module = fx.Module("provider.registry",
	fx.Provide(provideBreakerConfig),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
