package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	"github.com/localcard/localcard/internal/clock"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
	providerdomain "github.com/localcard/localcard/internal/provider/domain"
	"github.com/localcard/localcard/internal/syncer/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Cfg       config.Config
	Clock     clock.Clock
	Providers providerdomain.Service
	Points    pointsdomain.Service
	Billing   billingdomain.Service
	Outbox    *events.Outbox
}

// Service runs sync passes over connected providers.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clk       clock.Clock
	providers providerdomain.Service
	points    pointsdomain.Service
	billing   billingdomain.Service
	outbox    *events.Outbox

	feePercent   float64
	syncInterval time.Duration

	// inflight enforces at most one running sync per (merchant_id, provider).
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("syncer.service"),
		genID:     p.GenID,
		clk:       p.Clock,
		providers: p.Providers,
		points:    p.Points,
		billing:   p.Billing,
		outbox:    p.Outbox,

		feePercent:   p.Cfg.Billing.TransactionFeePercent,
		syncInterval: p.Cfg.Sync.Interval,

		inflight: make(map[string]struct{}),
	}
}

func (s *Service) SyncMerchant(ctx context.Context, connectionID snowflake.ID) (*domain.SyncResult, error) {
	conn, err := s.providers.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != providerdomain.ConnectionStatusActive {
		return nil, errors.Join(domain.ErrSyncFailed, providerdomain.ErrConnectionInactive)
	}

	pair := conn.MerchantID + ":" + conn.Provider
	if !s.acquire(pair) {
		return nil, domain.ErrSyncAlreadyRunning
	}
	defer s.release(pair)

	return s.run(ctx, conn)
}

func (s *Service) TriggerManualSync(ctx context.Context, merchantID, provider string) (*domain.SyncResult, error) {
	conn, err := s.providers.FindConnection(ctx, merchantID, provider)
	if err != nil {
		return nil, err
	}
	return s.SyncMerchant(ctx, conn.ID)
}

func (s *Service) GetSyncStatus(ctx context.Context, merchantID, provider string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM sync_jobs
		 WHERE merchant_id = ? AND provider = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		strings.TrimSpace(merchantID),
		strings.ToLower(strings.TrimSpace(provider)),
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *Service) SyncAll(ctx context.Context) error {
	conns, err := s.providers.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.SyncMerchant(ctx, conn.ID); err != nil {
			if errors.Is(err, domain.ErrSyncAlreadyRunning) {
				continue
			}
			s.log.Warn("sync pass failed",
				zap.String("merchant_id", conn.MerchantID),
				zap.String("provider", conn.Provider),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) run(ctx context.Context, conn *providerdomain.Connection) (*domain.SyncResult, error) {
	job := &domain.SyncJob{
		ID:         s.genID.Generate(),
		MerchantID: conn.MerchantID,
		Provider:   conn.Provider,
		Status:     domain.JobStatusRunning,
		StartedAt:  s.clk.Now(),
		CreatedAt:  s.clk.Now(),
	}
	if err := s.insertJob(ctx, job); err != nil {
		return nil, err
	}

	result, runErr := s.process(ctx, conn, job)
	if runErr != nil {
		s.settleJob(job, domain.JobStatusFailed, result, runErr)
		if err := s.updateJob(context.WithoutCancel(ctx), job); err != nil {
			s.log.Warn("failed to persist sync job", zap.Error(err))
		}
		return nil, runErr
	}

	s.settleJob(job, domain.JobStatusCompleted, result, nil)
	if err := s.updateJob(ctx, job); err != nil {
		s.log.Warn("failed to persist sync job", zap.Error(err))
	}

	s.log.Info("sync completed",
		zap.String("merchant_id", conn.MerchantID),
		zap.String("provider", conn.Provider),
		zap.Int64("records_processed", result.RecordsProcessed),
		zap.Int64("records_skipped", result.RecordsSkipped),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *Service) process(ctx context.Context, conn *providerdomain.Connection, job *domain.SyncJob) (*domain.SyncResult, error) {
	result := &domain.SyncResult{
		JobID:      job.ID,
		MerchantID: conn.MerchantID,
		Provider:   conn.Provider,
	}

	if s.providers.NeedsRefresh(conn) {
		refreshed, err := s.providers.Refresh(ctx, conn.ID)
		if err != nil {
			return result, errors.Join(domain.ErrSyncFailed, err)
		}
		conn = refreshed
	}

	client, err := s.providers.ClientFor(conn.Provider)
	if err != nil {
		return result, errors.Join(domain.ErrSyncFailed, err)
	}

	since := s.lastSyncAt(ctx, conn.MerchantID, conn.Provider)
	raws, err := client.ListTransactions(ctx, conn.AccessToken, conn.LocationID, since)
	if err != nil {
		return result, errors.Join(domain.ErrProviderFetch, err)
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			return result, errors.Join(domain.ErrSyncFailed, ctx.Err())
		}

		tx, err := client.Normalize(conn.MerchantID, raw)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if err := validate(tx); err != nil {
			result.Errors = append(result.Errors, tx.ExternalID+": "+err.Error())
			continue
		}

		applied, err := s.apply(ctx, tx)
		if err != nil {
			// The transaction row stays unprocessed and is retried on the
			// next pass.
			result.Errors = append(result.Errors, tx.ExternalID+": "+err.Error())
			continue
		}
		if applied {
			result.RecordsProcessed++
		} else {
			result.RecordsSkipped++
		}
	}

	return result, nil
}

// apply stores and hands off one normalized transaction. Returns false when
// the transaction was already fully processed by an earlier pass.
func (s *Service) apply(ctx context.Context, tx *providerdomain.Transaction) (bool, error) {
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, external_id, provider, merchant_id, amount_cents, currency,
			customer_ref, status, payment_method, metadata, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_id) DO NOTHING`,
		s.genID.Generate(),
		tx.ExternalID,
		tx.Provider,
		tx.MerchantID,
		tx.AmountCents,
		tx.Currency,
		tx.CustomerRef,
		string(tx.Status),
		tx.PaymentMethod,
		datatypes.JSONMap(tx.Metadata),
		tx.OccurredAt,
		s.clk.Now(),
	).Error; err != nil {
		return false, err
	}

	var record domain.TransactionRecord
	if err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM transactions
		 WHERE provider = ? AND external_id = ?`,
		tx.Provider,
		tx.ExternalID,
	).Scan(&record).Error; err != nil {
		return false, err
	}
	if record.ProcessedAt != nil {
		return false, nil
	}

	// Points first, fees second. Both calls are idempotent per transaction,
	// so a partial failure here is safe to replay.
	if record.CustomerRef != "" {
		if _, err := s.points.AccrueTransaction(ctx, pointsdomain.AccrualRequest{
			UserID:      record.CustomerRef,
			MerchantID:  record.MerchantID,
			AmountCents: record.AmountCents,
			Provider:    record.Provider,
			ExternalID:  record.ExternalID,
		}); err != nil {
			return false, err
		}
	}

	if _, err := s.billing.CalculateFee(ctx, billingdomain.FeeRequest{
		MerchantID:    record.MerchantID,
		TransactionID: record.Provider + ":" + record.ExternalID,
		Amount:        record.AmountCents,
		FeePercent:    s.feePercent,
	}); err != nil {
		return false, err
	}

	now := s.clk.Now()
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET processed_at = ?
		 WHERE id = ? AND processed_at IS NULL`,
		now,
		record.ID,
	).Error; err != nil {
		return false, err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		Type:      events.EventTransactionSynced,
		DedupeKey: "txsync:" + record.Provider + ":" + record.ExternalID,
		Payload: map[string]any{
			"transaction_id": record.ID.String(),
			"merchant_id":    record.MerchantID,
			"provider":       record.Provider,
			"amount_cents":   record.AmountCents,
		},
	}); err != nil {
		s.log.Warn("failed to publish sync event", zap.Error(err))
	}
	return true, nil
}

func validate(tx *providerdomain.Transaction) error {
	switch {
	case tx == nil || strings.TrimSpace(tx.ExternalID) == "":
		return errors.New("missing external id")
	case strings.TrimSpace(tx.MerchantID) == "":
		return errors.New("missing merchant id")
	case tx.AmountCents <= 0:
		return errors.New("non-positive amount")
	case tx.Status != providerdomain.TransactionStatusCompleted:
		return errors.New("not completed")
	case tx.OccurredAt.IsZero():
		return errors.New("missing timestamp")
	default:
		return nil
	}
}

func (s *Service) lastSyncAt(ctx context.Context, merchantID, provider string) time.Time {
	var last struct {
		LastSyncAt *time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT last_sync_at
		 FROM sync_jobs
		 WHERE merchant_id = ? AND provider = ? AND status = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		merchantID,
		provider,
		domain.JobStatusCompleted,
	).Scan(&last).Error
	if err != nil || last.LastSyncAt == nil {
		return time.Time{}
	}
	return *last.LastSyncAt
}

func (s *Service) settleJob(job *domain.SyncJob, status domain.JobStatus, result *domain.SyncResult, runErr error) {
	now := s.clk.Now()
	next := now.Add(s.syncInterval)

	job.Status = status
	job.FinishedAt = &now
	job.NextSyncAt = &next
	if result != nil {
		job.RecordsProcessed = result.RecordsProcessed
		job.RecordsSkipped = result.RecordsSkipped
		result.LastSyncAt = now
	}

	errs := []string{}
	if result != nil {
		errs = append(errs, result.Errors...)
	}
	if runErr != nil {
		errs = append(errs, runErr.Error())
	}
	if len(errs) > 0 {
		if encoded, err := json.Marshal(errs); err == nil {
			job.Errors = datatypes.JSON(encoded)
		}
	}
	if status == domain.JobStatusCompleted {
		job.LastSyncAt = &now
	}
}

func (s *Service) insertJob(ctx context.Context, job *domain.SyncJob) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO sync_jobs (
			id, merchant_id, provider, status, records_processed, records_skipped,
			started_at, created_at
		) VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		job.ID,
		job.MerchantID,
		job.Provider,
		job.Status,
		job.StartedAt,
		job.CreatedAt,
	).Error
}

func (s *Service) updateJob(ctx context.Context, job *domain.SyncJob) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE sync_jobs
		 SET status = ?, records_processed = ?, records_skipped = ?, errors = ?,
		     last_sync_at = ?, next_sync_at = ?, finished_at = ?
		 WHERE id = ?`,
		job.Status,
		job.RecordsProcessed,
		job.RecordsSkipped,
		job.Errors,
		job.LastSyncAt,
		job.NextSyncAt,
		job.FinishedAt,
		job.ID,
	).Error
}

func (s *Service) acquire(pair string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inflight[pair]; running {
		return false
	}
	s.inflight[pair] = struct{}{}
	return true
}

func (s *Service) release(pair string) {
	s.mu.Lock()
	delete(s.inflight, pair)
	s.mu.Unlock()
}
