package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/localcard/localcard/internal/cache"
	"github.com/localcard/localcard/internal/clock"
	"github.com/localcard/localcard/internal/config"
	"github.com/localcard/localcard/internal/observability/logger"
	"github.com/localcard/localcard/internal/observability/tracing"
	"github.com/localcard/localcard/internal/provider/adapters"
	providerdomain "github.com/localcard/localcard/internal/provider/domain"
)

// refreshBuffer is the safety window before token expiry in which a
// connection is considered due for refresh.
const refreshBuffer = 5 * time.Minute

const merchantInfoTTL = 10 * time.Minute

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Clock    clock.Clock
	Registry *adapters.Registry
}

// Service stores provider connections and brokers all credential traffic.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	clk      clock.Clock
	registry *adapters.Registry

	merchantCache *cache.TTLCache[string, providerdomain.MerchantInfo]
}

func NewService(p Params) providerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("provider.service"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		clk:      p.Clock,
		registry: p.Registry,

		merchantCache: cache.NewTTLCache[string, providerdomain.MerchantInfo](),
	}
}

func (s *Service) IssueConnection(ctx context.Context, merchantID, provider, authorizationCode string) (*providerdomain.Connection, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, providerdomain.ErrInvalidMerchant
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, providerdomain.ErrInvalidProvider
	}
	client, err := s.ClientFor(provider)
	if err != nil {
		return nil, err
	}

	grant, err := client.ExchangeCode(ctx, strings.TrimSpace(authorizationCode))
	if err != nil {
		if errors.Is(err, providerdomain.ErrAuthExchange) {
			return nil, err
		}
		return nil, errors.Join(providerdomain.ErrAuthExchange, err)
	}

	now := s.clk.Now()
	conn := &providerdomain.Connection{
		ID:           s.genID.Generate(),
		MerchantID:   merchantID,
		Provider:     provider,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
		Status:       providerdomain.ConnectionStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Merchant metadata failure keeps the tokens but flags the connection
	// incomplete so sync stays blocked until a retry succeeds.
	info, infoErr := client.FetchMerchant(ctx, grant.AccessToken)
	if infoErr != nil {
		conn.Status = providerdomain.ConnectionStatusIncomplete
		s.log.Warn("merchant info lookup failed",
			zap.String("merchant_id", merchantID),
			zap.String("provider", provider),
			zap.Error(infoErr),
		)
	} else {
		conn.BusinessName = info.BusinessName
		conn.LocationID = info.LocationID
		conn.Currency = info.Currency
	}

	if err := s.upsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	stored, err := s.FindConnection(ctx, merchantID, provider)
	if err != nil {
		return nil, err
	}

	s.log.Info("provider connection issued",
		zap.String("merchant_id", merchantID),
		zap.String("provider", provider),
		zap.String("access_token", logger.MaskToken(grant.AccessToken)),
	)

	if infoErr != nil {
		return stored, errors.Join(providerdomain.ErrMerchantInfo, infoErr)
	}
	return stored, nil
}

func (s *Service) Refresh(ctx context.Context, connectionID snowflake.ID) (*providerdomain.Connection, error) {
	conn, err := s.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.RefreshToken == "" {
		return nil, providerdomain.ErrNoRefreshCredential
	}
	client, err := s.ClientFor(conn.Provider)
	if err != nil {
		return nil, err
	}

	grant, err := client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, providerdomain.ErrRefreshRejected) {
			// Hard rejection: the credential is dead, deactivate so the
			// merchant is prompted to re-authorize.
			if markErr := s.markStatus(ctx, connectionID, providerdomain.ConnectionStatusInactive); markErr != nil {
				s.log.Warn("failed to deactivate connection", zap.Error(markErr))
			}
			return nil, err
		}
		return nil, err
	}

	now := s.clk.Now()
	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE provider_connections
		 SET access_token = ?, refresh_token = ?, expires_at = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		grant.AccessToken,
		refreshToken,
		grant.ExpiresAt,
		providerdomain.ConnectionStatusActive,
		now,
		connectionID,
	).Error; err != nil {
		return nil, err
	}

	s.log.Info("provider connection refreshed",
		zap.String("merchant_id", conn.MerchantID),
		zap.String("provider", conn.Provider),
	)
	return s.GetConnection(ctx, connectionID)
}

func (s *Service) Revoke(ctx context.Context, connectionID snowflake.ID) error {
	conn, err := s.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	// The local deactivation is the durable guarantee; provider-side
	// revocation is best-effort.
	if err := s.markStatus(ctx, connectionID, providerdomain.ConnectionStatusInactive); err != nil {
		return err
	}

	client, err := s.ClientFor(conn.Provider)
	if err == nil {
		if revokeErr := client.RevokeToken(ctx, conn.AccessToken); revokeErr != nil {
			s.log.Warn("provider-side revocation failed",
				zap.String("merchant_id", conn.MerchantID),
				zap.String("provider", conn.Provider),
				zap.Error(revokeErr),
			)
		}
	}

	s.log.Info("provider connection revoked",
		zap.String("merchant_id", conn.MerchantID),
		zap.String("provider", conn.Provider),
	)
	return nil
}

func (s *Service) NeedsRefresh(conn *providerdomain.Connection) bool {
	if conn == nil || conn.ExpiresAt == nil {
		return false
	}
	return !s.clk.Now().Add(refreshBuffer).Before(*conn.ExpiresAt)
}

func (s *Service) GetConnection(ctx context.Context, connectionID snowflake.ID) (*providerdomain.Connection, error) {
	var conn providerdomain.Connection
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM provider_connections
		 WHERE id = ?`,
		connectionID,
	).Scan(&conn).Error
	if err != nil {
		return nil, err
	}
	if conn.ID == 0 {
		return nil, providerdomain.ErrConnectionNotFound
	}
	return &conn, nil
}

func (s *Service) FindConnection(ctx context.Context, merchantID, provider string) (*providerdomain.Connection, error) {
	var conn providerdomain.Connection
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM provider_connections
		 WHERE merchant_id = ? AND provider = ?`,
		strings.TrimSpace(merchantID),
		strings.ToLower(strings.TrimSpace(provider)),
	).Scan(&conn).Error
	if err != nil {
		return nil, err
	}
	if conn.ID == 0 {
		return nil, providerdomain.ErrConnectionNotFound
	}
	return &conn, nil
}

func (s *Service) ListActive(ctx context.Context) ([]providerdomain.Connection, error) {
	var conns []providerdomain.Connection
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM provider_connections
		 WHERE status = ?
		 ORDER BY merchant_id, provider`,
		providerdomain.ConnectionStatusActive,
	).Scan(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}

func (s *Service) ClientFor(provider string) (providerdomain.Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	endpoint, ok := s.endpointFor(provider)
	if !ok {
		return nil, providerdomain.ErrProviderNotFound
	}
	return s.registry.Client(provider, providerdomain.ClientConfig{
		BaseURL:      endpoint.BaseURL,
		ClientID:     endpoint.ClientID,
		ClientSecret: endpoint.ClientSecret,
		HTTPClient:   tracing.WrapHTTPClient(&http.Client{Timeout: 15 * time.Second}),
	})
}

// RefreshMerchantInfo retries the metadata lookup for an incomplete
// connection, activating it on success.
func (s *Service) RefreshMerchantInfo(ctx context.Context, connectionID snowflake.ID) (*providerdomain.Connection, error) {
	conn, err := s.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	client, err := s.ClientFor(conn.Provider)
	if err != nil {
		return nil, err
	}

	cacheKey := conn.Provider + ":" + conn.MerchantID
	info, ok := s.merchantCache.Get(cacheKey)
	if !ok {
		fetched, err := client.FetchMerchant(ctx, conn.AccessToken)
		if err != nil {
			return nil, errors.Join(providerdomain.ErrMerchantInfo, err)
		}
		info = *fetched
		s.merchantCache.Set(cacheKey, info, merchantInfoTTL)
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE provider_connections
		 SET business_name = ?, location_id = ?, currency = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		info.BusinessName,
		info.LocationID,
		info.Currency,
		providerdomain.ConnectionStatusActive,
		s.clk.Now(),
		connectionID,
	).Error; err != nil {
		return nil, err
	}
	return s.GetConnection(ctx, connectionID)
}

func (s *Service) endpointFor(provider string) (config.ProviderEndpoint, bool) {
	switch provider {
	case providerdomain.ProviderSquare:
		return s.cfg.Providers.Square, true
	case providerdomain.ProviderClover:
		return s.cfg.Providers.Clover, true
	default:
		return config.ProviderEndpoint{}, false
	}
}

func (s *Service) upsertConnection(ctx context.Context, conn *providerdomain.Connection) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO provider_connections (
			id, merchant_id, provider, access_token, refresh_token, expires_at,
			business_name, location_id, currency, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			business_name = excluded.business_name,
			location_id = excluded.location_id,
			currency = excluded.currency,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		conn.ID,
		conn.MerchantID,
		conn.Provider,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.BusinessName,
		conn.LocationID,
		conn.Currency,
		conn.Status,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Error
}

func (s *Service) markStatus(ctx context.Context, connectionID snowflake.ID, status providerdomain.ConnectionStatus) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE provider_connections
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		s.clk.Now(),
		connectionID,
	).Error
}
