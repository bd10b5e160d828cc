package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	billingservice "github.com/localcard/localcard/internal/billing/service"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	"github.com/localcard/localcard/internal/clock"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/events"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
	pointsservice "github.com/localcard/localcard/internal/points/service"
	providerdomain "github.com/localcard/localcard/internal/provider/domain"
	"github.com/localcard/localcard/internal/syncer/domain"
)

type fakePayment struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	CustomerRef string `json:"customer_ref"`
	CreatedAt   string `json:"created_at"`
}

// fakeClient serves canned payloads and normalizes them like a real
// provider adapter.
type fakeClient struct {
	payments []fakePayment
	listErr  error
	block    chan struct{}
}

func (f *fakeClient) Provider() string { return "square" }

func (f *fakeClient) ExchangeCode(context.Context, string) (*providerdomain.TokenGrant, error) {
	return nil, providerdomain.ErrProviderUnavailable
}

func (f *fakeClient) RefreshToken(context.Context, string) (*providerdomain.TokenGrant, error) {
	return nil, providerdomain.ErrProviderUnavailable
}

func (f *fakeClient) RevokeToken(context.Context, string) error { return nil }

func (f *fakeClient) FetchMerchant(context.Context, string) (*providerdomain.MerchantInfo, error) {
	return nil, providerdomain.ErrMerchantInfo
}

func (f *fakeClient) ListTransactions(ctx context.Context, _, _ string, _ time.Time) ([]providerdomain.RawTransaction, error) {
	if f.block != nil {
		<-f.block
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	raws := make([]providerdomain.RawTransaction, 0, len(f.payments))
	for _, payment := range f.payments {
		encoded, _ := json.Marshal(payment)
		raws = append(raws, providerdomain.RawTransaction(encoded))
	}
	return raws, nil
}

func (f *fakeClient) Normalize(merchantID string, raw providerdomain.RawTransaction) (*providerdomain.Transaction, error) {
	var payment fakePayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, providerdomain.ErrInvalidTransaction
	}
	var occurredAt time.Time
	if payment.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, payment.CreatedAt)
		if err != nil {
			return nil, providerdomain.ErrInvalidTransaction
		}
		occurredAt = parsed
	}
	return &providerdomain.Transaction{
		ExternalID:  payment.ID,
		Provider:    "square",
		MerchantID:  merchantID,
		AmountCents: payment.Amount,
		Currency:    "USD",
		OccurredAt:  occurredAt,
		CustomerRef: payment.CustomerRef,
		Status:      providerdomain.TransactionStatus(payment.Status),
	}, nil
}

type fakeProviderService struct {
	conn   *providerdomain.Connection
	client *fakeClient
}

func (f *fakeProviderService) IssueConnection(context.Context, string, string, string) (*providerdomain.Connection, error) {
	return nil, providerdomain.ErrProviderUnavailable
}

func (f *fakeProviderService) Refresh(context.Context, snowflake.ID) (*providerdomain.Connection, error) {
	return f.conn, nil
}

func (f *fakeProviderService) Revoke(context.Context, snowflake.ID) error { return nil }

func (f *fakeProviderService) NeedsRefresh(*providerdomain.Connection) bool { return false }

func (f *fakeProviderService) RefreshMerchantInfo(context.Context, snowflake.ID) (*providerdomain.Connection, error) {
	return f.conn, nil
}

func (f *fakeProviderService) GetConnection(_ context.Context, connectionID snowflake.ID) (*providerdomain.Connection, error) {
	if f.conn == nil || f.conn.ID != connectionID {
		return nil, providerdomain.ErrConnectionNotFound
	}
	return f.conn, nil
}

func (f *fakeProviderService) FindConnection(_ context.Context, merchantID, provider string) (*providerdomain.Connection, error) {
	if f.conn == nil || f.conn.MerchantID != merchantID || f.conn.Provider != provider {
		return nil, providerdomain.ErrConnectionNotFound
	}
	return f.conn, nil
}

func (f *fakeProviderService) ListActive(context.Context) ([]providerdomain.Connection, error) {
	if f.conn == nil {
		return nil, nil
	}
	return []providerdomain.Connection{*f.conn}, nil
}

func (f *fakeProviderService) ClientFor(string) (providerdomain.Client, error) {
	return f.client, nil
}

type testHarness struct {
	syncer   domain.Service
	points   pointsdomain.Service
	billing  billingdomain.Service
	provider *fakeProviderService
	conn     *providerdomain.Connection
}

func newTestHarness(t *testing.T, client *fakeClient) *testHarness {
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

	if err := gdb.AutoMigrate(
		&pointsdomain.Account{},
		&pointsdomain.Entry{},
		&billingdomain.FeeRecord{},
		&billingdomain.Cycle{},
		&domain.SyncJob{},
		&domain.TransactionRecord{},
	); err != nil {
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

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	cfg := config.Config{
		Points: config.PointsConfig{EarnRatePercent: 2.0},
		Billing: config.BillingConfig{
			SubscriptionFeeCents:  4000,
			TransactionFeePercent: 0.03,
			DueDays:               14,
		},
		Sync: config.SyncConfig{Interval: time.Minute, Timeout: time.Minute},
	}
	outbox := events.NewOutbox(gdb, node)
	log := zap.NewNop()

	points := pointsservice.NewService(pointsservice.Params{
		DB: gdb, Log: log, GenID: node, Cfg: cfg, Outbox: outbox,
	})
	billing := billingservice.NewService(billingservice.Params{
		DB: gdb, Log: log, GenID: node, Cfg: cfg, Clock: clock.SystemClock{}, Outbox: outbox,
	})

	conn := &providerdomain.Connection{
		ID:         node.Generate(),
		MerchantID: "merchant-1",
		Provider:   "square",
		Status:     providerdomain.ConnectionStatusActive,
	}
	provider := &fakeProviderService{conn: conn, client: client}

	syncer := NewService(Params{
		DB:        gdb,
		Log:       log,
		GenID:     node,
		Cfg:       cfg,
		Clock:     clock.SystemClock{},
		Providers: provider,
		Points:    points,
		Billing:   billing,
		Outbox:    outbox,
	})

	return &testHarness{
		syncer:   syncer,
		points:   points,
		billing:  billing,
		provider: provider,
		conn:     conn,
	}
}

func TestSyncMerchantProcessesBatch(t *testing.T) {
	client := &fakeClient{payments: []fakePayment{
		{ID: "pay_1", Amount: 2450, Status: "completed", CustomerRef: "user-1", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: "pay_2", Amount: 1000, Status: "completed", CustomerRef: "user-2", CreatedAt: "2026-08-01T11:00:00Z"},
	}}
	h := newTestHarness(t, client)
	ctx := context.Background()

	result, err := h.syncer.SyncMerchant(ctx, h.conn.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.RecordsProcessed != 2 || result.RecordsSkipped != 0 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	account, err := h.points.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 49 {
		t.Fatalf("expected 49 points for user-1, got %d", account.Balance)
	}

	record, err := h.billing.CalculateFee(ctx, billingdomain.FeeRequest{
		MerchantID:    "merchant-1",
		TransactionID: "square:pay_1",
		Amount:        2450,
		FeePercent:    0.03,
	})
	if err != nil {
		t.Fatalf("load fee: %v", err)
	}
	if record.FeeAmount != 74 {
		t.Fatalf("expected fee 74, got %d", record.FeeAmount)
	}
}

func TestSyncSkipsDuplicatesAcrossPasses(t *testing.T) {
	client := &fakeClient{payments: []fakePayment{
		{ID: "pay_1", Amount: 2000, Status: "completed", CustomerRef: "user-1", CreatedAt: "2026-08-01T10:00:00Z"},
	}}
	h := newTestHarness(t, client)
	ctx := context.Background()

	first, err := h.syncer.SyncMerchant(ctx, h.conn.ID)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.RecordsProcessed != 1 {
		t.Fatalf("expected 1 processed, got %+v", first)
	}

	second, err := h.syncer.SyncMerchant(ctx, h.conn.ID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.RecordsProcessed != 0 || second.RecordsSkipped != 1 {
		t.Fatalf("expected duplicate skipped, got %+v", second)
	}

	account, err := h.points.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if account.Balance != 40 {
		t.Fatalf("expected balance unaffected by repeat, got %d", account.Balance)
	}
}

func TestSyncCountsInvalidRecords(t *testing.T) {
	client := &fakeClient{payments: []fakePayment{
		{ID: "pay_1", Amount: 1000, Status: "completed", CustomerRef: "user-1", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: "pay_2", Amount: 0, Status: "completed", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: "pay_3", Amount: 500, Status: "failed", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: "pay_4", Amount: 500, Status: "completed"},
	}}
	h := newTestHarness(t, client)

	result, err := h.syncer.SyncMerchant(context.Background(), h.conn.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.RecordsProcessed != 1 {
		t.Fatalf("expected 1 processed, got %+v", result)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", result.Errors)
	}
}

func TestSyncFetchFailureMarksJobFailed(t *testing.T) {
	client := &fakeClient{listErr: errors.New("timeout")}
	h := newTestHarness(t, client)
	ctx := context.Background()

	if _, err := h.syncer.SyncMerchant(ctx, h.conn.ID); !errors.Is(err, domain.ErrProviderFetch) {
		t.Fatalf("expected ErrProviderFetch, got %v", err)
	}

	job, err := h.syncer.GetSyncStatus(ctx, "merchant-1", "square")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if job.FinishedAt == nil {
		t.Fatalf("expected job settled, got %+v", job)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	h := newTestHarness(t, client)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.syncer.SyncMerchant(ctx, h.conn.ID)
		done <- err
	}()

	// Wait for the first run to enter the provider fetch.
	deadline := time.After(2 * time.Second)
	for {
		if _, err := h.syncer.GetSyncStatus(ctx, "merchant-1", "square"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first sync never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, err := h.syncer.SyncMerchant(ctx, h.conn.ID); !errors.Is(err, domain.ErrSyncAlreadyRunning) {
		t.Fatalf("expected ErrSyncAlreadyRunning, got %v", err)
	}

	close(client.block)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// The guard is released once the run finishes.
	if _, err := h.syncer.SyncMerchant(ctx, h.conn.ID); err != nil {
		t.Fatalf("sync after release: %v", err)
	}
}

func TestSyncInactiveConnectionRejected(t *testing.T) {
	client := &fakeClient{}
	h := newTestHarness(t, client)
	h.conn.Status = providerdomain.ConnectionStatusInactive

	if _, err := h.syncer.SyncMerchant(context.Background(), h.conn.ID); !errors.Is(err, providerdomain.ErrConnectionInactive) {
		t.Fatalf("expected ErrConnectionInactive, got %v", err)
	}
}
