package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
	"github.com/localcard/localcard/pkg/keylock"
)

const defaultHistoryPageSize = 50

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Cfg    config.Config
	Outbox *events.Outbox
}

// Service maintains per-user balances and the append-only entry log.
// Writes for the same user are serialized through a keyed mutex so
// concurrent earn/redeem calls cannot lose updates.
type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	outbox *events.Outbox

	earnRatePercent float64
	userLocks       *keylock.KeyLock
}

func NewService(p Params) pointsdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("points.service"),
		genID:  p.GenID,
		outbox: p.Outbox,

		earnRatePercent: p.Cfg.Points.EarnRatePercent,
		userLocks:       keylock.New(),
	}
}

func (s *Service) Earn(ctx context.Context, req pointsdomain.EarnRequest) (*pointsdomain.Entry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, pointsdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, pointsdomain.ErrInvalidAmount
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, pointsdomain.ErrInvalidSource
	}
	entryType := req.Type
	if entryType == "" {
		entryType = pointsdomain.EntryTypeEarn
	}
	switch entryType {
	case pointsdomain.EntryTypeEarn, pointsdomain.EntryTypeBonus, pointsdomain.EntryTypeReferral:
	default:
		return nil, pointsdomain.ErrInvalidEntryType
	}

	unlock := s.userLocks.Lock(userID)
	defer unlock()

	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID != "" {
		prior, err := s.findEntryBySource(ctx, source, sourceID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	entry := &pointsdomain.Entry{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Type:       entryType,
		Amount:     req.Amount,
		Source:     source,
		SourceID:   sourceID,
		MerchantID: strings.TrimSpace(req.MerchantID),
		WardNumber: req.WardNumber,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Metadata != nil {
		entry.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.upsertAccount(ctx, tx, userID, req.Amount, req.Amount, entry.CreatedAt); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.EventPointsEarned,
			Payload:   pointsPayload(entry),
			DedupeKey: "points_earned:" + entry.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("points earned",
		zap.String("user_id", userID),
		zap.Int64("amount", req.Amount),
		zap.String("source", source),
	)
	return entry, nil
}

func (s *Service) Redeem(ctx context.Context, req pointsdomain.RedeemRequest) (*pointsdomain.Entry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, pointsdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, pointsdomain.ErrInvalidAmount
	}

	unlock := s.userLocks.Lock(userID)
	defer unlock()

	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Balance < req.Amount {
		return nil, pointsdomain.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	entry := &pointsdomain.Entry{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Type:       pointsdomain.EntryTypeRedeem,
		Amount:     -req.Amount,
		Source:     pointsdomain.SourceReward,
		SourceID:   strings.TrimSpace(req.RewardID),
		MerchantID: strings.TrimSpace(req.MerchantID),
		CreatedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lifetime is untouched: redemption does not reduce what was earned.
		result := tx.WithContext(ctx).Exec(
			`UPDATE points_accounts
			 SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ? AND balance >= ?`,
			req.Amount,
			now,
			userID,
			req.Amount,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return pointsdomain.ErrInsufficientBalance
		}
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.EventPointsRedeemed,
			Payload:   pointsPayload(entry),
			DedupeKey: "points_redeemed:" + entry.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("points redeemed",
		zap.String("user_id", userID),
		zap.Int64("amount", req.Amount),
		zap.String("reward_id", entry.SourceID),
	)
	return entry, nil
}

func (s *Service) AccrueTransaction(ctx context.Context, req pointsdomain.AccrualRequest) (*pointsdomain.Entry, error) {
	if strings.TrimSpace(req.ExternalID) == "" || strings.TrimSpace(req.Provider) == "" {
		return nil, pointsdomain.ErrInvalidSource
	}
	if req.AmountCents <= 0 {
		return nil, pointsdomain.ErrInvalidAmount
	}

	// Base accrual: configurable percentage of the amount, floored.
	points := int64(float64(req.AmountCents) * s.earnRatePercent / 100)
	if points <= 0 {
		return nil, nil
	}

	return s.Earn(ctx, pointsdomain.EarnRequest{
		UserID:     req.UserID,
		Amount:     points,
		Type:       pointsdomain.EntryTypeEarn,
		Source:     pointsdomain.SourceTransaction,
		SourceID:   req.Provider + ":" + req.ExternalID,
		MerchantID: req.MerchantID,
		Metadata: map[string]any{
			"amount_cents": req.AmountCents,
			"provider":     req.Provider,
		},
	})
}

func (s *Service) GetBalance(ctx context.Context, userID string) (pointsdomain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pointsdomain.Account{}, pointsdomain.ErrInvalidUser
	}
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return pointsdomain.Account{}, err
	}
	if account == nil {
		return pointsdomain.Account{UserID: userID}, nil
	}
	return *account, nil
}

func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]pointsdomain.Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pointsdomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = defaultHistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var entries []pointsdomain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM points_ledger_entries
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) loadAccount(ctx context.Context, userID string) (*pointsdomain.Account, error) {
	var account pointsdomain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, balance, lifetime, created_at, updated_at
		 FROM points_accounts
		 WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (s *Service) upsertAccount(ctx context.Context, tx *gorm.DB, userID string, balanceDelta, lifetimeDelta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO points_accounts (user_id, balance, lifetime, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			balance = balance + excluded.balance,
			lifetime = lifetime + excluded.lifetime,
			updated_at = excluded.updated_at`,
		userID,
		balanceDelta,
		lifetimeDelta,
		now,
		now,
	).Error
}

func (s *Service) insertEntry(ctx context.Context, tx *gorm.DB, entry *pointsdomain.Entry) error {
	var metadata any
	if entry.Metadata != nil {
		metadata = entry.Metadata
	}
	var ward any
	if entry.WardNumber != nil {
		ward = *entry.WardNumber
	}
	var sourceID any
	if entry.SourceID != "" {
		sourceID = entry.SourceID
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO points_ledger_entries (
			id, user_id, type, amount, source, source_id, merchant_id,
			ward_number, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Type,
		entry.Amount,
		entry.Source,
		sourceID,
		entry.MerchantID,
		ward,
		metadata,
		entry.CreatedAt,
	).Error
}

func (s *Service) findEntryBySource(ctx context.Context, source, sourceID string) (*pointsdomain.Entry, error) {
	var entry pointsdomain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM points_ledger_entries
		 WHERE source = ? AND source_id = ?
		 LIMIT 1`,
		source,
		sourceID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func pointsPayload(entry *pointsdomain.Entry) map[string]any {
	return events.PointsPayload{
		EntryID:  entry.ID.String(),
		UserID:   entry.UserID,
		Amount:   entry.Amount,
		Source:   entry.Source,
		SourceID: entry.SourceID,
	}.ToMap()
}
