package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryType classifies a balance change.
type EntryType string

const (
	EntryTypeEarn     EntryType = "earn"
	EntryTypeRedeem   EntryType = "redeem"
	EntryTypeBonus    EntryType = "bonus"
	EntryTypeReferral EntryType = "referral"
)

// Entry sources. Source plus SourceID form the idempotency key for
// transaction-driven accruals.
const (
	SourceTransaction = "transaction"
	SourceReward      = "reward"
	SourceCampaign    = "campaign"
	SourceReferral    = "referral"
	SourceManual      = "manual"
)

// Account is the per-user points aggregate. Balance is spendable points,
// Lifetime the monotonically non-decreasing total ever earned.
type Account struct {
	UserID    string    `gorm:"primaryKey;column:user_id"`
	Balance   int64     `gorm:"not null;default:0"`
	Lifetime  int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "points_accounts" }

// Entry is an append-only record of a single balance change. Never mutated
// or deleted after creation.
type Entry struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     string            `gorm:"not null;index"`
	Type       EntryType         `gorm:"type:text;not null"`
	Amount     int64             `gorm:"not null"`
	Source     string            `gorm:"type:text;not null;index:ix_points_entries_source,priority:1"`
	SourceID   string            `gorm:"type:text;index:ix_points_entries_source,priority:2"`
	MerchantID string            `gorm:"type:text"`
	WardNumber *int              `gorm:"column:ward_number"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "points_ledger_entries" }
