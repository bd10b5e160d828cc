// @title           Local Card API
// @version         1.0
// @description     Local Card loyalty ledger API

// @host      localhost:8080
// @BasePath  /api
// @Schemes 	http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/localcard/localcard/internal/billing"
	"github.com/localcard/localcard/internal/clock"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	"github.com/localcard/localcard/internal/migration"
	"github.com/localcard/localcard/internal/observability"
	"github.com/localcard/localcard/internal/points"
	"github.com/localcard/localcard/internal/provider"
	"github.com/localcard/localcard/internal/seed"
	"github.com/localcard/localcard/internal/server"
	"github.com/localcard/localcard/internal/syncer"
	"github.com/localcard/localcard/internal/syncer/scheduler"
	"github.com/localcard/localcard/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if !cfg.IsProduction() {
				return seed.EnsureDemoMerchant(conn, log)
			}
			return nil
		}),

		provider.Module,
		points.Module,
		billing.Module,
		syncer.Module,
		scheduler.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server, engine *gin.Engine) {
			s.RegisterAPIRoutes(engine)
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
