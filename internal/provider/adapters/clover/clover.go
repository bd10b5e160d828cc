// Package clover integrates the Clover platform API.
package clover

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

// NewFactory returns the Clover client factory.
func NewFactory() domain.Factory { return factory{} }

func (factory) Provider() string { return domain.ProviderClover }

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

// Client talks to one Clover application.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
}

func (c *Client) Provider() string { return domain.ProviderClover }

type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	AccessTokenExpiration int64  `json:"access_token_expiration"`
}

func (c *Client) ExchangeCode(ctx context.Context, authorizationCode string) (*domain.TokenGrant, error) {
	return c.obtainToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          authorizationCode,
	}, domain.ErrAuthExchange)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	return c.obtainToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"refresh_token": refreshToken,
	}, domain.ErrRefreshRejected)
}

func (c *Client) obtainToken(ctx context.Context, payload map[string]string, failure error) (*domain.TokenGrant, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/v2/token", bytes.NewReader(body))
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
	if token.AccessTokenExpiration > 0 {
		expires := time.Unix(token.AccessTokenExpiration, 0).UTC()
		grant.ExpiresAt = &expires
	}
	return grant, nil
}

// RevokeToken invalidates the merchant's token server-side. Clover scopes
// tokens to the app, so revocation is a deletion of the app's token.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/oauth/v2/token", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

type merchantResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"defaultCurrency"`
}

func (c *Client) FetchMerchant(ctx context.Context, accessToken string) (*domain.MerchantInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/merchants/me", nil)
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
		BusinessName: merchant.Name,
		LocationID:   merchant.ID,
		Currency:     merchant.Currency,
	}, nil
}

type paymentsResponse struct {
	Elements []json.RawMessage `json:"elements"`
}

func (c *Client) ListTransactions(ctx context.Context, accessToken, locationID string, since time.Time) ([]domain.RawTransaction, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("filter", fmt.Sprintf("createdTime>=%d", since.UnixMilli()))
	}

	endpoint := fmt.Sprintf("%s/v3/merchants/%s/payments", c.baseURL, url.PathEscape(locationID))
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

	raws := make([]domain.RawTransaction, 0, len(payments.Elements))
	for _, payment := range payments.Elements {
		raws = append(raws, domain.RawTransaction(payment))
	}
	return raws, nil
}

type cloverPayment struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CreatedTime int64  `json:"createdTime"`
	Result      string `json:"result"`
	Tender      struct {
		Label string `json:"label"`
	} `json:"tender"`
	Customers struct {
		ID string `json:"id"`
	} `json:"customers"`
}

func (c *Client) Normalize(merchantID string, raw domain.RawTransaction) (*domain.Transaction, error) {
	var payment cloverPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
	}
	if payment.ID == "" || payment.CreatedTime == 0 {
		return nil, domain.ErrInvalidTransaction
	}

	return &domain.Transaction{
		ExternalID:    payment.ID,
		Provider:      domain.ProviderClover,
		MerchantID:    merchantID,
		AmountCents:   payment.Amount,
		Currency:      strings.ToUpper(payment.Currency),
		OccurredAt:    time.UnixMilli(payment.CreatedTime).UTC(),
		CustomerRef:   payment.Customers.ID,
		Status:        mapResult(payment.Result),
		PaymentMethod: strings.ToLower(payment.Tender.Label),
	}, nil
}

func mapResult(result string) domain.TransactionStatus {
	switch strings.ToUpper(result) {
	case "SUCCESS", "AUTH":
		return domain.TransactionStatusCompleted
	case "VOIDED", "REFUNDED":
		return domain.TransactionStatusRefunded
	default:
		return domain.TransactionStatusFailed
	}
}
