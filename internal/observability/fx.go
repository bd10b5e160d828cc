package observability

import (
	"go.uber.org/fx"

	"github.com/localcard/localcard/internal/observability/logger"
	"github.com/localcard/localcard/internal/observability/tracing"
)

var Module = fx.Module("observability",
	fx.Provide(logger.New),
	fx.Invoke(tracing.NewProvider),
)
