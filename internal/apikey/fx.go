package apikey

import (
	"github.com/rnblock/gateway/internal/apikey/repository"
	"github.com/rnblock/gateway/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.resolver",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolver),
)
