package domain

import (
	"context"
	"net/http"
	"time"
)

// ClientConfig carries the per-provider settings a factory needs.
type ClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Client is one provider integration. Implementations own the provider's
// wire shapes; everything they hand back is canonical.
type Client interface {
	Provider() string
	ExchangeCode(ctx context.Context, authorizationCode string) (*TokenGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	RevokeToken(ctx context.Context, accessToken string) error
	FetchMerchant(ctx context.Context, accessToken string) (*MerchantInfo, error)
	ListTransactions(ctx context.Context, accessToken, locationID string, since time.Time) ([]RawTransaction, error)
	Normalize(merchantID string, raw RawTransaction) (*Transaction, error)
}

// Factory builds clients for one provider.
type Factory interface {
	Provider() string
	NewClient(cfg ClientConfig) (Client, error)
}
