package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of one sync run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SyncJob records one sync run for a (merchant_id, provider) pair. A run is
// never left in running; timeouts and panics settle it as failed with the
// partial counts it reached.
type SyncJob struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	MerchantID       string         `gorm:"type:text;not null;index:ix_sync_jobs_pair,priority:1"`
	Provider         string         `gorm:"type:text;not null;index:ix_sync_jobs_pair,priority:2"`
	Status           JobStatus      `gorm:"type:text;not null;default:'pending'"`
	RecordsProcessed int64          `gorm:"not null;default:0"`
	RecordsSkipped   int64          `gorm:"not null;default:0"`
	Errors           datatypes.JSON `gorm:"type:jsonb"`
	LastSyncAt       *time.Time     `gorm:"column:last_sync_at"`
	NextSyncAt       *time.Time     `gorm:"column:next_sync_at"`
	StartedAt        time.Time      `gorm:"not null"`
	FinishedAt       *time.Time     `gorm:"column:finished_at"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SyncJob) TableName() string { return "sync_jobs" }

// TransactionRecord is the stored normalized transaction. The
// (provider, external_id) pair is the dedup key; processed_at is set only
// after both ledgers accepted the transaction, so a crash between insert
// and hand-off leaves the row eligible for retry.
type TransactionRecord struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ExternalID    string            `gorm:"type:text;not null;uniqueIndex:ux_transactions_provider_external,priority:2"`
	Provider      string            `gorm:"type:text;not null;uniqueIndex:ux_transactions_provider_external,priority:1"`
	MerchantID    string            `gorm:"type:text;not null;index"`
	AmountCents   int64             `gorm:"not null"`
	Currency      string            `gorm:"type:text"`
	CustomerRef   string            `gorm:"type:text"`
	Status        string            `gorm:"type:text;not null"`
	PaymentMethod string            `gorm:"type:text"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	OccurredAt    time.Time         `gorm:"not null"`
	ProcessedAt   *time.Time        `gorm:"column:processed_at"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TransactionRecord) TableName() string { return "transactions" }

// SyncResult summarizes one completed sync run.
type SyncResult struct {
	JobID            snowflake.ID `json:"job_id"`
	MerchantID       string       `json:"merchant_id"`
	Provider         string       `json:"provider"`
	RecordsProcessed int64        `json:"records_processed"`
	RecordsSkipped   int64        `json:"records_skipped"`
	Errors           []string     `json:"errors,omitempty"`
	LastSyncAt       time.Time    `json:"last_sync_at"`
}
