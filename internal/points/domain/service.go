package domain

import (
	"context"
	"errors"
)

// EarnRequest credits points to a user.
type EarnRequest struct {
	UserID     string
	Amount     int64
	Type       EntryType
	Source     string
	SourceID   string
	MerchantID string
	WardNumber *int
	Metadata   map[string]any
}

// RedeemRequest spends points against a reward.
type RedeemRequest struct {
	UserID     string
	Amount     int64
	MerchantID string
	RewardID   string
}

// AccrualRequest credits points for a synced point-of-sale transaction.
type AccrualRequest struct {
	UserID      string
	MerchantID  string
	AmountCents int64
	Provider    string
	ExternalID  string
}

// Service is the authoritative per-user point balance.
type Service interface {
	// Earn appends a positive entry. Calls that repeat an already recorded
	// (source, source_id) pair are no-ops returning the prior entry.
	Earn(ctx context.Context, req EarnRequest) (*Entry, error)
	// Redeem appends a negative entry. Lifetime is untouched.
	Redeem(ctx context.Context, req RedeemRequest) (*Entry, error)
	// AccrueTransaction applies the base accrual rate to a transaction
	// amount. Returns nil when the floored point count is zero.
	AccrueTransaction(ctx context.Context, req AccrualRequest) (*Entry, error)
	// GetBalance returns a zero-valued account for unknown users.
	GetBalance(ctx context.Context, userID string) (Account, error)
	// History lists entries reverse-chronologically.
	History(ctx context.Context, userID string, limit, offset int) ([]Entry, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
