package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	"github.com/localcard/localcard/internal/clock"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	"github.com/localcard/localcard/pkg/keylock"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Cfg    config.Config
	Clock  clock.Clock
	Outbox *events.Outbox
}

// Service owns fee records and billing cycles. Fee computation and cycle
// close for one merchant are serialized through a keyed mutex.
type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clk    clock.Clock
	outbox *events.Outbox

	subscriptionFee int64
	dueDays         int
	merchantLocks   *keylock.KeyLock
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("billing.service"),
		genID:  p.GenID,
		clk:    p.Clock,
		outbox: p.Outbox,

		subscriptionFee: p.Cfg.Billing.SubscriptionFeeCents,
		dueDays:         p.Cfg.Billing.DueDays,
		merchantLocks:   keylock.New(),
	}
}

func (s *Service) CalculateFee(ctx context.Context, req billingdomain.FeeRequest) (*billingdomain.FeeRecord, error) {
	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" {
		return nil, billingdomain.ErrInvalidMerchant
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" || req.Amount <= 0 {
		return nil, billingdomain.ErrInvalidTransaction
	}
	if req.FeePercent <= 0 || req.FeePercent >= 1 {
		return nil, billingdomain.ErrInvalidFeePercent
	}

	unlock := s.merchantLocks.Lock(merchantID)
	defer unlock()

	record := billingdomain.FeeRecord{
		ID:            s.genID.Generate(),
		MerchantID:    merchantID,
		TransactionID: transactionID,
		Amount:        req.Amount,
		FeePercent:    req.FeePercent,
		FeeAmount:     int64(math.Round(float64(req.Amount) * req.FeePercent)),
		CalculatedAt:  s.clk.Now(),
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO transaction_fee_records (
			id, merchant_id, transaction_id, amount, fee_percent, fee_amount, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		record.ID,
		record.MerchantID,
		record.TransactionID,
		record.Amount,
		record.FeePercent,
		record.FeeAmount,
		record.CalculatedAt,
	).Error; err != nil {
		return nil, err
	}

	// Always read back: a conflicting insert means a prior computation won.
	stored, err := s.loadFeeRecord(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, billingdomain.ErrInvalidTransaction
	}
	return stored, nil
}

func (s *Service) CloseBillingCycle(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) (*billingdomain.Cycle, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, billingdomain.ErrInvalidMerchant
	}
	if !periodEnd.After(periodStart) {
		return nil, billingdomain.ErrInvalidPeriod
	}
	periodStart = periodStart.UTC()
	periodEnd = periodEnd.UTC()

	unlock := s.merchantLocks.Lock(merchantID)
	defer unlock()

	existing, err := s.findCycleByPeriod(ctx, merchantID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clk.Now()
	dueAt := periodEnd.Add(time.Duration(s.dueDays) * 24 * time.Hour)
	cycle := billingdomain.Cycle{
		ID:              s.genID.Generate(),
		MerchantID:      merchantID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		SubscriptionFee: s.subscriptionFee,
		Status:          billingdomain.CycleStatusDraft,
		DueAt:           &dueAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claim the period's unassigned fee records; each record belongs to
		// at most one cycle, so overlapping closes cannot double count.
		if err := tx.WithContext(ctx).Exec(
			`UPDATE transaction_fee_records
			 SET billing_cycle_id = ?
			 WHERE merchant_id = ?
			   AND billing_cycle_id IS NULL
			   AND calculated_at >= ? AND calculated_at < ?`,
			cycle.ID,
			merchantID,
			periodStart,
			periodEnd,
		).Error; err != nil {
			return err
		}

		var totals struct {
			Volume int64
			Fees   int64
			Count  int64
		}
		if err := tx.WithContext(ctx).Raw(
			`SELECT COALESCE(SUM(amount), 0) AS volume,
			        COALESCE(SUM(fee_amount), 0) AS fees,
			        COUNT(1) AS count
			 FROM transaction_fee_records
			 WHERE billing_cycle_id = ?`,
			cycle.ID,
		).Scan(&totals).Error; err != nil {
			return err
		}

		cycle.TransactionVolume = totals.Volume
		cycle.TransactionFees = totals.Fees
		cycle.TransactionCount = totals.Count
		cycle.TotalAmount = cycle.SubscriptionFee + totals.Fees

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO monthly_billing_cycles (
				id, merchant_id, period_start, period_end, subscription_fee,
				transaction_volume, transaction_fees, transaction_count,
				total_amount, status, due_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cycle.ID,
			cycle.MerchantID,
			cycle.PeriodStart,
			cycle.PeriodEnd,
			cycle.SubscriptionFee,
			cycle.TransactionVolume,
			cycle.TransactionFees,
			cycle.TransactionCount,
			cycle.TotalAmount,
			cycle.Status,
			cycle.DueAt,
			cycle.CreatedAt,
			cycle.UpdatedAt,
		).Error; err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventBillingCycleClosed,
			Payload: events.CyclePayload{
				CycleID:     cycle.ID.String(),
				MerchantID:  merchantID,
				TotalAmount: cycle.TotalAmount,
			}.ToMap(),
			DedupeKey: "billing_cycle_closed:" + cycle.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("billing cycle closed",
		zap.String("merchant_id", merchantID),
		zap.String("cycle_id", cycle.ID.String()),
		zap.Int64("total_amount", cycle.TotalAmount),
	)
	return &cycle, nil
}

func (s *Service) MarkPending(ctx context.Context, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	cycle, err := s.transition(ctx, cycleID, billingdomain.CycleStatusDraft, billingdomain.CycleStatusPending, "issued_at")
	if err != nil {
		return nil, err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		Type: events.EventBillingCycleIssued,
		Payload: events.CyclePayload{
			CycleID:     cycle.ID.String(),
			MerchantID:  cycle.MerchantID,
			TotalAmount: cycle.TotalAmount,
		}.ToMap(),
		DedupeKey: "billing_cycle_issued:" + cycle.ID.String(),
	}); err != nil {
		s.log.Warn("failed to publish cycle issued event", zap.Error(err))
	}
	return cycle, nil
}

func (s *Service) MarkPaid(ctx context.Context, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	return s.transition(ctx, cycleID, billingdomain.CycleStatusPending, billingdomain.CycleStatusPaid, "paid_at")
}

func (s *Service) MarkOverdue(ctx context.Context, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	cycle, err := s.loadCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, billingdomain.ErrCycleNotFound
	}
	if cycle.DueAt == nil || s.clk.Now().Before(*cycle.DueAt) {
		return nil, billingdomain.ErrCycleNotDue
	}
	return s.transition(ctx, cycleID, billingdomain.CycleStatusPending, billingdomain.CycleStatusOverdue, "")
}

func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	now := s.clk.Now()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE monthly_billing_cycles
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND due_at IS NOT NULL AND due_at < ?`,
		billingdomain.CycleStatusOverdue,
		now,
		billingdomain.CycleStatusPending,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("billing cycles marked overdue", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) Analytics(ctx context.Context, merchantID string) (billingdomain.Analytics, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return billingdomain.Analytics{}, billingdomain.ErrInvalidMerchant
	}

	now := s.clk.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	analytics := billingdomain.Analytics{
		MerchantID: merchantID,
		CurrentPeriod: billingdomain.PeriodSummary{
			PeriodStart: monthStart,
			PeriodEnd:   monthEnd,
		},
	}

	var current struct {
		Volume int64
		Fees   int64
		Count  int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS volume,
		        COALESCE(SUM(fee_amount), 0) AS fees,
		        COUNT(1) AS count
		 FROM transaction_fee_records
		 WHERE merchant_id = ? AND calculated_at >= ? AND calculated_at < ?`,
		merchantID,
		monthStart,
		monthEnd,
	).Scan(&current).Error; err != nil {
		return billingdomain.Analytics{}, err
	}
	analytics.CurrentPeriod.TransactionVolume = current.Volume
	analytics.CurrentPeriod.TransactionFees = current.Fees
	analytics.CurrentPeriod.TransactionCount = current.Count

	dayOfMonth := now.Day()
	daysInMonth := monthEnd.Add(-time.Nanosecond).Day()
	projected := s.subscriptionFee
	if dayOfMonth > 0 {
		projected += int64(math.Round(float64(current.Fees) / float64(dayOfMonth) * float64(daysInMonth)))
	}
	analytics.CurrentPeriod.ProjectedTotal = projected

	previous, err := s.findLatestClosedCycle(ctx, merchantID, monthStart)
	if err != nil {
		return billingdomain.Analytics{}, err
	}
	analytics.PreviousCycle = previous

	var ytd struct {
		Billed int64
		Cycles int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total_amount), 0) AS billed, COUNT(1) AS cycles
		 FROM monthly_billing_cycles
		 WHERE merchant_id = ? AND period_start >= ?`,
		merchantID,
		yearStart,
	).Scan(&ytd).Error; err != nil {
		return billingdomain.Analytics{}, err
	}

	var unbilled int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(fee_amount), 0)
		 FROM transaction_fee_records
		 WHERE merchant_id = ? AND billing_cycle_id IS NULL AND calculated_at >= ?`,
		merchantID,
		yearStart,
	).Scan(&unbilled).Error; err != nil {
		return billingdomain.Analytics{}, err
	}

	analytics.YearToDate = billingdomain.YearToDate{
		TotalBilled:  ytd.Billed,
		UnbilledFees: unbilled,
		ClosedCycles: ytd.Cycles,
	}
	return analytics, nil
}

func (s *Service) transition(ctx context.Context, cycleID snowflake.ID, from, to billingdomain.CycleStatus, stampColumn string) (*billingdomain.Cycle, error) {
	now := s.clk.Now()

	query := `UPDATE monthly_billing_cycles SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{to, now, cycleID, from}
	switch stampColumn {
	case "issued_at":
		query = `UPDATE monthly_billing_cycles
		         SET status = ?, issued_at = COALESCE(issued_at, ?), updated_at = ?
		         WHERE id = ? AND status = ?`
		args = []any{to, now, now, cycleID, from}
	case "paid_at":
		query = `UPDATE monthly_billing_cycles
		         SET status = ?, paid_at = COALESCE(paid_at, ?), updated_at = ?
		         WHERE id = ? AND status = ?`
		args = []any{to, now, now, cycleID, from}
	}

	result := s.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		cycle, err := s.loadCycle(ctx, cycleID)
		if err != nil {
			return nil, err
		}
		if cycle == nil {
			return nil, billingdomain.ErrCycleNotFound
		}
		return nil, billingdomain.ErrInvalidCycleStatus
	}
	return s.loadCycle(ctx, cycleID)
}

func (s *Service) loadFeeRecord(ctx context.Context, transactionID string) (*billingdomain.FeeRecord, error) {
	var record billingdomain.FeeRecord
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM transaction_fee_records
		 WHERE transaction_id = ?`,
		transactionID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (s *Service) loadCycle(ctx context.Context, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	var cycle billingdomain.Cycle
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM monthly_billing_cycles
		 WHERE id = ?`,
		cycleID,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (s *Service) findCycleByPeriod(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) (*billingdomain.Cycle, error) {
	var cycle billingdomain.Cycle
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM monthly_billing_cycles
		 WHERE merchant_id = ? AND period_start = ? AND period_end = ?`,
		merchantID,
		periodStart,
		periodEnd,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (s *Service) findLatestClosedCycle(ctx context.Context, merchantID string, before time.Time) (*billingdomain.Cycle, error) {
	var cycle billingdomain.Cycle
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM monthly_billing_cycles
		 WHERE merchant_id = ? AND period_end <= ?
		 ORDER BY period_end DESC
		 LIMIT 1`,
		merchantID,
		before,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}
