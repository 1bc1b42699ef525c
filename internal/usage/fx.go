package usage

import (
	"github.com/rnblock/gateway/internal/usage/repository"
	"github.com/rnblock/gateway/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.recorder",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewRecorder),
)
