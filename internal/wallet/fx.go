package wallet

import (
	"github.com/rnblock/gateway/internal/wallet/repository"
	"github.com/rnblock/gateway/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLedger),
)
