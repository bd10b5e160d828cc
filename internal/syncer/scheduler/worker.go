package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	"github.com/localcard/localcard/internal/config"
	syncerdomain "github.com/localcard/localcard/internal/syncer/domain"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Syncer  syncerdomain.Service
	Billing billingdomain.Service
	Config  Config `optional:"true"`
}

// Worker drives the periodic sync sweep and the overdue-cycle sweep.
type Worker struct {
	log     *zap.Logger
	syncer  syncerdomain.Service
	billing billingdomain.Service
	cfg     Config
}

func NewWorker(p Params) *Worker {
	cfg := p.Config.withDefaults()
	if p.Cfg.Sync.Interval > 0 {
		cfg.PollInterval = p.Cfg.Sync.Interval
	}
	if p.Cfg.Sync.Timeout > 0 {
		cfg.RunTimeout = p.Cfg.Sync.Timeout
	}
	return &Worker{
		log:     p.Log.Named("syncer.scheduler"),
		syncer:  p.Syncer,
		billing: p.Billing,
		cfg:     cfg,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("scheduled sync run failed", zap.Error(err))
		}
	}
}

func (w *Worker) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, w.cfg.RunTimeout)
	defer cancel()

	if err := w.syncer.SyncAll(ctx); err != nil {
		return err
	}

	flagged, err := w.billing.SweepOverdue(ctx)
	if err != nil {
		return err
	}
	if flagged > 0 {
		w.log.Info("billing cycles flagged overdue", zap.Int64("count", flagged))
	}
	return nil
}
