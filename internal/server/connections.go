package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	providerdomain "github.com/localcard/localcard/internal/provider/domain"
)

// connectionResponse is the external view of a connection. Tokens never
// leave the provider service boundary.
type connectionResponse struct {
	ID           string     `json:"id"`
	MerchantID   string     `json:"merchant_id"`
	Provider     string     `json:"provider"`
	BusinessName string     `json:"business_name,omitempty"`
	LocationID   string     `json:"location_id,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toConnectionResponse(conn *providerdomain.Connection) connectionResponse {
	return connectionResponse{
		ID:           conn.ID.String(),
		MerchantID:   conn.MerchantID,
		Provider:     conn.Provider,
		BusinessName: conn.BusinessName,
		LocationID:   conn.LocationID,
		Currency:     conn.Currency,
		Status:       string(conn.Status),
		ExpiresAt:    conn.ExpiresAt,
		CreatedAt:    conn.CreatedAt,
		UpdatedAt:    conn.UpdatedAt,
	}
}

type createConnectionRequest struct {
	MerchantID        string `json:"merchant_id"`
	Provider          string `json:"provider"`
	AuthorizationCode string `json:"authorization_code"`
}

// @Summary      Connect Provider
// @Description  Exchange an authorization code for a provider connection
// @Tags         connections
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body createConnectionRequest true "Create Connection Request"
// @Success      200  {object}  connectionResponse
// @Router       /connections [post]
func (s *Server) CreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	conn, err := s.providerSvc.IssueConnection(
		c.Request.Context(),
		strings.TrimSpace(req.MerchantID),
		strings.TrimSpace(req.Provider),
		strings.TrimSpace(req.AuthorizationCode),
	)
	if err != nil {
		// Tokens were stored but the merchant lookup failed; the caller
		// gets the incomplete connection and retries the lookup later.
		if errors.Is(err, providerdomain.ErrMerchantInfo) && conn != nil {
			c.JSON(http.StatusOK, gin.H{
				"data":    toConnectionResponse(conn),
				"warning": providerdomain.ErrMerchantInfo.Error(),
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toConnectionResponse(conn)})
}

// @Summary      Find Connections
// @Description  Find a connection by merchant and provider, or list active connections
// @Tags         connections
// @Produce      json
// @Security     ApiKeyAuth
// @Param        merchant_id  query  string  false  "Merchant ID"
// @Param        provider     query  string  false  "Provider"
// @Success      200  {object}  []connectionResponse
// @Router       /connections [get]
func (s *Server) FindConnections(c *gin.Context) {
	merchantID := strings.TrimSpace(c.Query("merchant_id"))
	provider := strings.TrimSpace(c.Query("provider"))

	if merchantID != "" && provider != "" {
		conn, err := s.providerSvc.FindConnection(c.Request.Context(), merchantID, provider)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []connectionResponse{toConnectionResponse(conn)}})
		return
	}

	conns, err := s.providerSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]connectionResponse, 0, len(conns))
	for i := range conns {
		resp = append(resp, toConnectionResponse(&conns[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Connection
// @Description  Get a connection by ID
// @Tags         connections
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  connectionResponse
// @Router       /connections/{id} [get]
func (s *Server) GetConnection(c *gin.Context) {
	connectionID, ok := parseConnectionID(c)
	if !ok {
		return
	}

	conn, err := s.providerSvc.GetConnection(c.Request.Context(), connectionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toConnectionResponse(conn)})
}

// @Summary      Refresh Connection
// @Description  Rotate the connection's access credential
// @Tags         connections
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  connectionResponse
// @Router       /connections/{id}/refresh [post]
func (s *Server) RefreshConnection(c *gin.Context) {
	connectionID, ok := parseConnectionID(c)
	if !ok {
		return
	}

	conn, err := s.providerSvc.Refresh(c.Request.Context(), connectionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toConnectionResponse(conn)})
}

// @Summary      Refresh Merchant Info
// @Description  Retry the merchant metadata lookup for an incomplete connection
// @Tags         connections
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  connectionResponse
// @Router       /connections/{id}/merchant-info [post]
func (s *Server) RefreshMerchantInfo(c *gin.Context) {
	connectionID, ok := parseConnectionID(c)
	if !ok {
		return
	}

	conn, err := s.providerSvc.RefreshMerchantInfo(c.Request.Context(), connectionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toConnectionResponse(conn)})
}

// @Summary      Revoke Connection
// @Description  Deactivate a connection and revoke its provider-side token
// @Tags         connections
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  map[string]string
// @Router       /connections/{id} [delete]
func (s *Server) RevokeConnection(c *gin.Context) {
	connectionID, ok := parseConnectionID(c)
	if !ok {
		return
	}

	if err := s.providerSvc.Revoke(c.Request.Context(), connectionID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func parseConnectionID(c *gin.Context) (snowflake.ID, bool) {
	connectionID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_connection_id", "invalid connection id"))
		return 0, false
	}
	return connectionID, true
}
