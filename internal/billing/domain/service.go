package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// FeeRequest computes the platform fee for one synced transaction.
type FeeRequest struct {
	MerchantID    string
	TransactionID string
	Amount        int64
	FeePercent    float64
}

// Service computes and aggregates merchant-owed fees.
type Service interface {
	// CalculateFee is idempotent per TransactionID: recomputation returns
	// the stored record instead of creating a duplicate charge.
	CalculateFee(ctx context.Context, req FeeRequest) (*FeeRecord, error)
	// CloseBillingCycle claims the period's unassigned fee records into a
	// draft cycle. Closing the same period twice returns the stored cycle.
	CloseBillingCycle(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) (*Cycle, error)
	// MarkPending issues a draft cycle for payment.
	MarkPending(ctx context.Context, cycleID snowflake.ID) (*Cycle, error)
	// MarkPaid settles a pending cycle.
	MarkPaid(ctx context.Context, cycleID snowflake.ID) (*Cycle, error)
	// MarkOverdue flags a pending cycle whose due date has passed.
	MarkOverdue(ctx context.Context, cycleID snowflake.ID) (*Cycle, error)
	// SweepOverdue marks every pending cycle past its due date. Returns the
	// number of cycles flagged.
	SweepOverdue(ctx context.Context) (int64, error)
	// Analytics returns a zero-valued overview for unknown merchants.
	Analytics(ctx context.Context, merchantID string) (Analytics, error)
}

var (
	ErrInvalidMerchant    = errors.New("invalid_merchant")
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrInvalidFeePercent  = errors.New("invalid_fee_percent")
	ErrInvalidPeriod      = errors.New("invalid_period")
	ErrCycleNotFound      = errors.New("billing_cycle_not_found")
	ErrInvalidCycleStatus = errors.New("invalid_billing_cycle_status")
	ErrCycleNotDue        = errors.New("billing_cycle_not_due")
)
