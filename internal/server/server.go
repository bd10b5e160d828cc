package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/observability/logger"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
	providerdomain "github.com/localcard/localcard/internal/provider/domain"
	syncerdomain "github.com/localcard/localcard/internal/syncer/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Cfg       config.Config
	Log       *zap.Logger
	Points    pointsdomain.Service
	Billing   billingdomain.Service
	Providers providerdomain.Service
	Syncer    syncerdomain.Service
}

// Server exposes the ledger operations over HTTP.
type Server struct {
	db          *gorm.DB
	cfg         config.Config
	log         *zap.Logger
	pointsSvc   pointsdomain.Service
	billingSvc  billingdomain.Service
	providerSvc providerdomain.Service
	syncSvc     syncerdomain.Service

	// syncLimiter throttles manual sync triggers per merchant/provider pair.
	syncLimiter *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		db:          p.DB,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		pointsSvc:   p.Points,
		billingSvc:  p.Billing,
		providerSvc: p.Providers,
		syncSvc:     p.Syncer,

		syncLimiter: newRateLimiter(6, time.Minute),
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz"},
	}))
	return engine
}

func (s *Server) RegisterAPIRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)

	api := engine.Group("/api")
	api.Use(s.APIKeyRequired())

	points := api.Group("/points")
	points.POST("/earn", s.EarnPoints)
	points.POST("/redeem", s.RedeemPoints)
	points.GET("/:user_id/balance", s.GetBalance)
	points.GET("/:user_id/history", s.GetHistory)

	billing := api.Group("/billing")
	billing.POST("/fees", s.CalculateFee)
	billing.POST("/cycles/close", s.CloseBillingCycle)
	billing.POST("/cycles/:id/issue", s.IssueCycle)
	billing.POST("/cycles/:id/pay", s.PayCycle)
	billing.POST("/cycles/:id/overdue", s.FlagCycleOverdue)
	billing.GET("/analytics/:merchant_id", s.BillingAnalytics)

	connections := api.Group("/connections")
	connections.POST("", s.CreateConnection)
	connections.GET("", s.FindConnections)
	connections.GET("/:id", s.GetConnection)
	connections.POST("/:id/refresh", s.RefreshConnection)
	connections.POST("/:id/merchant-info", s.RefreshMerchantInfo)
	connections.DELETE("/:id", s.RevokeConnection)

	sync := api.Group("/sync")
	sync.POST("/trigger", s.TriggerSync)
	sync.GET("/status", s.SyncStatus)
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
