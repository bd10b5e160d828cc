// Package square integrates the Square Connect API: OAuth token exchange,
// merchant lookup, and payment listing.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/localcard/localcard/internal/provider/domain"
)

type factory struct{}

// NewFactory returns the Square client factory.
func NewFactory() domain.Factory { return factory{} }

func (factory) Provider() string { return domain.ProviderSquare }

func (factory) NewClient(cfg domain.ClientConfig) (domain.Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrProviderUnavailable
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         httpClient,
	}, nil
}

// Client talks to one Square application.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
}

func (c *Client) Provider() string { return domain.ProviderSquare }

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

func (c *Client) ExchangeCode(ctx context.Context, authorizationCode string) (*domain.TokenGrant, error) {
	return c.obtainToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          authorizationCode,
		"grant_type":    "authorization_code",
	}, domain.ErrAuthExchange)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	return c.obtainToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}, domain.ErrRefreshRejected)
}

func (c *Client) obtainToken(ctx context.Context, payload map[string]string, failure error) (*domain.TokenGrant, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", failure, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%w: %v", failure, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, failure
	}

	grant := &domain.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresAt != "" {
		if expires, err := time.Parse(time.RFC3339, token.ExpiresAt); err == nil {
			grant.ExpiresAt = &expires
		}
	}
	return grant, nil
}

func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	body, err := json.Marshal(map[string]string{
		"client_id":    c.clientID,
		"access_token": accessToken,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/revoke", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Client "+c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

type merchantResponse struct {
	Merchant struct {
		BusinessName   string `json:"business_name"`
		Currency       string `json:"currency"`
		MainLocationID string `json:"main_location_id"`
	} `json:"merchant"`
}

func (c *Client) FetchMerchant(ctx context.Context, accessToken string) (*domain.MerchantInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/merchants/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMerchantInfo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrMerchantInfo, resp.StatusCode)
	}

	var merchant merchantResponse
	if err := json.NewDecoder(resp.Body).Decode(&merchant); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMerchantInfo, err)
	}
	return &domain.MerchantInfo{
		BusinessName: merchant.Merchant.BusinessName,
		LocationID:   merchant.Merchant.MainLocationID,
		Currency:     merchant.Merchant.Currency,
	}, nil
}

type paymentsResponse struct {
	Payments []json.RawMessage `json:"payments"`
}

func (c *Client) ListTransactions(ctx context.Context, accessToken, locationID string, since time.Time) ([]domain.RawTransaction, error) {
	query := url.Values{}
	if locationID != "" {
		query.Set("location_id", locationID)
	}
	if !since.IsZero() {
		query.Set("begin_time", since.UTC().Format(time.RFC3339))
	}

	endpoint := c.baseURL + "/v2/payments"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var payments paymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payments); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	raws := make([]domain.RawTransaction, 0, len(payments.Payments))
	for _, payment := range payments.Payments {
		raws = append(raws, domain.RawTransaction(payment))
	}
	return raws, nil
}

type squarePayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	AmountMoney struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
	BuyerEmailAddress string `json:"buyer_email_address"`
	SourceType        string `json:"source_type"`
	CardDetails       struct {
		Card struct {
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
		} `json:"card"`
	} `json:"card_details"`
}

func (c *Client) Normalize(merchantID string, raw domain.RawTransaction) (*domain.Transaction, error) {
	var payment squarePayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
	}
	if payment.ID == "" {
		return nil, domain.ErrInvalidTransaction
	}

	occurredAt, err := time.Parse(time.RFC3339, payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
	}

	tx := &domain.Transaction{
		ExternalID:    payment.ID,
		Provider:      domain.ProviderSquare,
		MerchantID:    merchantID,
		AmountCents:   payment.AmountMoney.Amount,
		Currency:      payment.AmountMoney.Currency,
		OccurredAt:    occurredAt.UTC(),
		CustomerRef:   payment.BuyerEmailAddress,
		Status:        mapStatus(payment.Status),
		PaymentMethod: strings.ToLower(payment.SourceType),
	}
	if payment.CardDetails.Card.Last4 != "" {
		tx.Metadata = map[string]any{
			"card_brand": payment.CardDetails.Card.CardBrand,
			"card_last4": payment.CardDetails.Card.Last4,
		}
	}
	return tx, nil
}

func mapStatus(status string) domain.TransactionStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED", "APPROVED":
		return domain.TransactionStatusCompleted
	case "REFUNDED":
		return domain.TransactionStatusRefunded
	default:
		return domain.TransactionStatusFailed
	}
}
