package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
)

func newTestService(t *testing.T) pointsdomain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := gdb.AutoMigrate(&pointsdomain.Account{}, &pointsdomain.Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := gdb.Exec(
		`CREATE TABLE loyalty_events (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB,
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create events table: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	return NewService(Params{
		DB:     gdb,
		Log:    zap.NewNop(),
		GenID:  node,
		Cfg:    config.Config{Points: config.PointsConfig{EarnRatePercent: 2.0}},
		Outbox: events.NewOutbox(gdb, node),
	})
}

func TestEarnUpdatesBalanceAndLifetime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Earn(ctx, pointsdomain.EarnRequest{
		UserID: "user-1",
		Amount: 100,
		Source: pointsdomain.SourceManual,
	})
	if err != nil {
		t.Fatalf("earn: %v", err)
	}
	if entry.Amount != 100 || entry.Type != pointsdomain.EntryTypeEarn {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 100 || account.Lifetime != 100 {
		t.Fatalf("expected balance=100 lifetime=100, got %+v", account)
	}
}

func TestEarnRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "", Amount: 10, Source: "manual"}); !errors.Is(err, pointsdomain.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "u", Amount: 0, Source: "manual"}); !errors.Is(err, pointsdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "u", Amount: 10, Source: ""}); !errors.Is(err, pointsdomain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "u", Amount: 10, Source: "manual", Type: "redeem"}); !errors.Is(err, pointsdomain.ErrInvalidEntryType) {
		t.Fatalf("expected ErrInvalidEntryType, got %v", err)
	}
}

func TestEarnIsIdempotentPerSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := pointsdomain.EarnRequest{
		UserID:   "user-1",
		Amount:   49,
		Source:   pointsdomain.SourceTransaction,
		SourceID: "square:pay_123",
	}
	first, err := svc.Earn(ctx, req)
	if err != nil {
		t.Fatalf("first earn: %v", err)
	}
	second, err := svc.Earn(ctx, req)
	if err != nil {
		t.Fatalf("second earn: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate earn to return prior entry, got %v and %v", first.ID, second.ID)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 49 {
		t.Fatalf("expected balance 49 after duplicate earn, got %d", account.Balance)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// 2% of a $24.50 transaction, floored.
	entry, err := svc.AccrueTransaction(ctx, pointsdomain.AccrualRequest{
		UserID:      "user-1",
		MerchantID:  "merchant-1",
		AmountCents: 2450,
		Provider:    "square",
		ExternalID:  "pay_450",
	})
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if entry.Amount != 49 {
		t.Fatalf("expected 49 points, got %d", entry.Amount)
	}

	if _, err := svc.Redeem(ctx, pointsdomain.RedeemRequest{
		UserID:   "user-1",
		Amount:   500,
		RewardID: "reward-1",
	}); !errors.Is(err, pointsdomain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 49 || account.Lifetime != 49 {
		t.Fatalf("expected balance unchanged at 49, got %+v", account)
	}
}

func TestRedeemLeavesLifetimeUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "user-1", Amount: 200, Source: "manual"}); err != nil {
		t.Fatalf("earn: %v", err)
	}
	entry, err := svc.Redeem(ctx, pointsdomain.RedeemRequest{UserID: "user-1", Amount: 80, RewardID: "reward-1"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if entry.Amount != -80 || entry.Type != pointsdomain.EntryTypeRedeem {
		t.Fatalf("unexpected redeem entry: %+v", entry)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 120 || account.Lifetime != 200 {
		t.Fatalf("expected balance=120 lifetime=200, got %+v", account)
	}
}

func TestRepeatedRewardRedemptions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "user-1", Amount: 300, Source: "manual"}); err != nil {
		t.Fatalf("earn: %v", err)
	}

	// The same reward can be redeemed more than once; only externally
	// sourced earns are deduplicated.
	for i := 0; i < 2; i++ {
		if _, err := svc.Redeem(ctx, pointsdomain.RedeemRequest{UserID: "user-1", Amount: 100, RewardID: "reward-1"}); err != nil {
			t.Fatalf("redeem %d: %v", i, err)
		}
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 100 {
		t.Fatalf("expected balance 100 after two redemptions, got %d", account.Balance)
	}
}

func TestConcurrentRedeemExactlyOneSucceeds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{UserID: "user-1", Amount: 100, Source: "manual"}); err != nil {
		t.Fatalf("earn: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, pointsdomain.RedeemRequest{UserID: "user-1", Amount: 60, RewardID: "reward-1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, pointsdomain.ErrInsufficientBalance):
			failed++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("expected exactly one success and one failure, got %d/%d", succeeded, failed)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 40 {
		t.Fatalf("expected balance 40, got %d", account.Balance)
	}
}

func TestAccrueTransactionFloorsToZero(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.AccrueTransaction(ctx, pointsdomain.AccrualRequest{
		UserID:      "user-1",
		MerchantID:  "merchant-1",
		AmountCents: 30,
		Provider:    "square",
		ExternalID:  "pay_tiny",
	})
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no entry for sub-point amount, got %+v", entry)
	}

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", account.Balance)
	}
}

func TestGetBalanceUnknownUser(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.GetBalance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.UserID != "ghost" || account.Balance != 0 || account.Lifetime != 0 {
		t.Fatalf("expected zero account, got %+v", account)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.Earn(ctx, pointsdomain.EarnRequest{
			UserID:   "user-1",
			Amount:   int64(i * 10),
			Source:   pointsdomain.SourceTransaction,
			SourceID: fmt.Sprintf("square:pay_%d", i),
		}); err != nil {
			t.Fatalf("earn %d: %v", i, err)
		}
	}

	entries, err := svc.History(ctx, "user-1", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Amount != 30 || entries[1].Amount != 20 {
		t.Fatalf("expected newest first, got %d then %d", entries[0].Amount, entries[1].Amount)
	}
}
