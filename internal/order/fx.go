package order

import (
	"github.com/simbridge/simbridge/internal/order/repository"
	"github.com/simbridge/simbridge/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
