package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service manages provider credentials per merchant. Raw client secrets
// never leave this component; callers receive connections whose tokens are
// already usable bearer credentials.
type Service interface {
	// IssueConnection exchanges an authorization code and stores the
	// resulting connection. A failed merchant-metadata lookup stores the
	// connection as incomplete and returns ErrMerchantInfo.
	IssueConnection(ctx context.Context, merchantID, provider, authorizationCode string) (*Connection, error)
	// Refresh rotates the access credential. A hard provider rejection
	// deactivates the connection and returns ErrRefreshRejected.
	Refresh(ctx context.Context, connectionID snowflake.ID) (*Connection, error)
	// Revoke deactivates the local record; the provider-side revocation
	// call is best-effort and never fails the operation.
	Revoke(ctx context.Context, connectionID snowflake.ID) error
	// NeedsRefresh reports whether the access credential expires within
	// the refresh safety buffer.
	NeedsRefresh(conn *Connection) bool

	// RefreshMerchantInfo retries the metadata lookup for an incomplete
	// connection, activating it on success.
	RefreshMerchantInfo(ctx context.Context, connectionID snowflake.ID) (*Connection, error)

	GetConnection(ctx context.Context, connectionID snowflake.ID) (*Connection, error)
	FindConnection(ctx context.Context, merchantID, provider string) (*Connection, error)
	ListActive(ctx context.Context) ([]Connection, error)
	// ClientFor returns the transaction-listing client for a provider,
	// for use by the sync engine.
	ClientFor(provider string) (Client, error)
}

var (
	ErrInvalidMerchant     = errors.New("invalid_merchant")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrAuthExchange        = errors.New("auth_exchange_failed")
	ErrMerchantInfo        = errors.New("merchant_info_unavailable")
	ErrNoRefreshCredential = errors.New("no_refresh_credential")
	ErrRefreshRejected     = errors.New("refresh_rejected")
	ErrConnectionNotFound  = errors.New("connection_not_found")
	ErrConnectionInactive  = errors.New("connection_inactive")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrInvalidTransaction  = errors.New("invalid_transaction_payload")
)
