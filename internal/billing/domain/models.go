package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CycleStatus tracks a billing cycle through its payable lifecycle.
// Transitions are one-directional: draft -> pending -> paid, with
// pending -> overdue after the due date passes.
type CycleStatus string

const (
	CycleStatusDraft   CycleStatus = "draft"
	CycleStatusPending CycleStatus = "pending"
	CycleStatusPaid    CycleStatus = "paid"
	CycleStatusOverdue CycleStatus = "overdue"
)

// FeeRecord is one fee computation per synced transaction. Immutable;
// TransactionID is the idempotency key. BillingCycleID is set exactly once
// when a cycle claims the record, so a record is billed at most once.
type FeeRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	MerchantID     string        `gorm:"type:text;not null;index"`
	TransactionID  string        `gorm:"type:text;not null;uniqueIndex"`
	Amount         int64         `gorm:"not null"`
	FeePercent     float64       `gorm:"not null"`
	FeeAmount      int64         `gorm:"not null"`
	BillingCycleID *snowflake.ID `gorm:"index"`
	CalculatedAt   time.Time     `gorm:"not null;index"`
}

// TableName sets the database table name.
func (FeeRecord) TableName() string { return "transaction_fee_records" }

// Cycle aggregates a merchant's subscription and transaction fees over a
// [PeriodStart, PeriodEnd) window.
type Cycle struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	MerchantID        string       `gorm:"type:text;not null;index;uniqueIndex:ux_billing_cycle_period,priority:1"`
	PeriodStart       time.Time    `gorm:"not null;uniqueIndex:ux_billing_cycle_period,priority:2"`
	PeriodEnd         time.Time    `gorm:"not null;uniqueIndex:ux_billing_cycle_period,priority:3"`
	SubscriptionFee   int64        `gorm:"not null"`
	TransactionVolume int64        `gorm:"not null"`
	TransactionFees   int64        `gorm:"not null"`
	TransactionCount  int64        `gorm:"not null"`
	TotalAmount       int64        `gorm:"not null"`
	Status            CycleStatus  `gorm:"type:text;not null;default:'draft'"`
	DueAt             *time.Time   `gorm:"column:due_at"`
	IssuedAt          *time.Time   `gorm:"column:issued_at"`
	PaidAt            *time.Time   `gorm:"column:paid_at"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Cycle) TableName() string { return "monthly_billing_cycles" }

// PeriodSummary describes fee activity inside one period.
type PeriodSummary struct {
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	TransactionVolume int64     `json:"transaction_volume"`
	TransactionFees   int64     `json:"transaction_fees"`
	TransactionCount  int64     `json:"transaction_count"`
	ProjectedTotal    int64     `json:"projected_total"`
}

// YearToDate sums billing activity for the calendar year.
type YearToDate struct {
	TotalBilled  int64 `json:"total_billed"`
	UnbilledFees int64 `json:"unbilled_fees"`
	ClosedCycles int64 `json:"closed_cycles"`
}

// Analytics is the merchant-facing billing overview.
type Analytics struct {
	MerchantID    string        `json:"merchant_id"`
	CurrentPeriod PeriodSummary `json:"current_period"`
	PreviousCycle *Cycle        `json:"previous_cycle,omitempty"`
	YearToDate    YearToDate    `json:"year_to_date"`
}
