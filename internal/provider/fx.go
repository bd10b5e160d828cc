package provider

import (
	"go.uber.org/fx"

	"github.com/localcard/localcard/internal/provider/adapters"
	"github.com/localcard/localcard/internal/provider/adapters/clover"
	"github.com/localcard/localcard/internal/provider/adapters/square"
	"github.com/localcard/localcard/internal/provider/service"
)

var Module = fx.Module("provider.service",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(square.NewFactory(), clover.NewFactory())
	}),
	fx.Provide(service.NewService),
)
