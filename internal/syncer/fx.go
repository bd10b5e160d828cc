package syncer

import (
	"go.uber.org/fx"

	"github.com/localcard/localcard/internal/syncer/service"
)

var Module = fx.Module("syncer.service",
	fx.Provide(service.NewService),
)
