package points

import (
	"go.uber.org/fx"

	"github.com/localcard/localcard/internal/points/service"
)

var Module = fx.Module("points.service",
	fx.Provide(service.NewService),
)
