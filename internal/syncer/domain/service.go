package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service pulls provider transaction feeds and hands normalized
// transactions to the points and billing ledgers. Delivery is
// at-least-once; both ledgers are idempotent per transaction.
type Service interface {
	// SyncMerchant runs one sync pass for a connection. A second call for
	// the same (merchant_id, provider) pair while one is in flight fails
	// fast with ErrSyncAlreadyRunning.
	SyncMerchant(ctx context.Context, connectionID snowflake.ID) (*SyncResult, error)
	// TriggerManualSync resolves the pair's connection and runs
	// SyncMerchant.
	TriggerManualSync(ctx context.Context, merchantID, provider string) (*SyncResult, error)
	// GetSyncStatus returns the most recent job for the pair.
	GetSyncStatus(ctx context.Context, merchantID, provider string) (*SyncJob, error)
	// SyncAll runs one pass over every active connection. Per-connection
	// failures are logged and do not stop the sweep.
	SyncAll(ctx context.Context) error
}

var (
	ErrSyncAlreadyRunning = errors.New("sync_already_running")
	ErrSyncFailed         = errors.New("sync_failed")
	ErrProviderFetch      = errors.New("provider_fetch_failed")
	ErrJobNotFound        = errors.New("sync_job_not_found")
)
