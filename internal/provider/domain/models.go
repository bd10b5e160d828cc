package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Supported point-of-sale providers.
const (
	ProviderSquare = "square"
	ProviderClover = "clover"
)

// ConnectionStatus tracks a connection's usability. Connections are
// deactivated, never deleted.
type ConnectionStatus string

const (
	// ConnectionStatusActive means credentials are usable for sync.
	ConnectionStatusActive ConnectionStatus = "active"
	// ConnectionStatusIncomplete means tokens were issued but the merchant
	// metadata lookup failed; sync is blocked until re-activation.
	ConnectionStatusIncomplete ConnectionStatus = "incomplete"
	// ConnectionStatusInactive means the connection was revoked or its
	// refresh credential was rejected; re-authorization is required.
	ConnectionStatusInactive ConnectionStatus = "inactive"
)

// Connection binds a merchant to one provider's credentials. At most one
// row exists per (merchant_id, provider); re-authorization updates it.
type Connection struct {
	ID           snowflake.ID     `gorm:"primaryKey"`
	MerchantID   string           `gorm:"type:text;not null;uniqueIndex:ux_provider_connections_pair,priority:1"`
	Provider     string           `gorm:"type:text;not null;uniqueIndex:ux_provider_connections_pair,priority:2"`
	AccessToken  string           `gorm:"type:text;not null"`
	RefreshToken string           `gorm:"type:text"`
	ExpiresAt    *time.Time       `gorm:"column:expires_at"`
	BusinessName string           `gorm:"type:text"`
	LocationID   string           `gorm:"type:text"`
	Currency     string           `gorm:"type:text"`
	Status       ConnectionStatus `gorm:"type:text;not null;default:'active'"`
	CreatedAt    time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Connection) TableName() string { return "provider_connections" }

// TokenGrant is the result of an authorization-code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// MerchantInfo is provider-side merchant metadata fetched on activation.
type MerchantInfo struct {
	BusinessName string
	LocationID   string
	Currency     string
}

// RawTransaction is one provider-native transaction payload, opaque until
// the owning client normalizes it.
type RawTransaction = json.RawMessage

// TransactionStatus is the canonical settlement state.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// LineItem is one purchased item on a normalized transaction.
type LineItem struct {
	Name        string `json:"name"`
	Quantity    int64  `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

// Transaction is the provider-agnostic point-of-sale transaction consumed
// by the points and billing ledgers. Immutable once created; ExternalID is
// unique per provider and serves as the dedup key.
type Transaction struct {
	ExternalID    string            `json:"external_id"`
	Provider      string            `json:"provider"`
	MerchantID    string            `json:"merchant_id"`
	AmountCents   int64             `json:"amount_cents"`
	Currency      string            `json:"currency"`
	OccurredAt    time.Time         `json:"occurred_at"`
	CustomerRef   string            `json:"customer_ref,omitempty"`
	Status        TransactionStatus `json:"status"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	LineItems     []LineItem        `json:"line_items,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
}
