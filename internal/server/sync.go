package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type triggerSyncRequest struct {
	MerchantID string `json:"merchant_id"`
	Provider   string `json:"provider"`
}

// @Summary      Trigger Sync
// @Description  Run one sync pass for a merchant/provider pair
// @Tags         sync
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body triggerSyncRequest true "Trigger Sync Request"
// @Success      200  {object}  syncerdomain.SyncResult
// @Router       /sync/trigger [post]
func (s *Server) TriggerSync(c *gin.Context) {
	var req triggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID := strings.TrimSpace(req.MerchantID)
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if merchantID == "" {
		AbortWithError(c, newValidationError("merchant_id", "invalid_merchant_id", "merchant_id is required"))
		return
	}
	if provider == "" {
		AbortWithError(c, newValidationError("provider", "invalid_provider", "provider is required"))
		return
	}

	if !s.syncLimiter.Allow(merchantID + ":" + provider) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	result, err := s.syncSvc.TriggerManualSync(c.Request.Context(), merchantID, provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// @Summary      Sync Status
// @Description  Latest sync job for a merchant/provider pair
// @Tags         sync
// @Produce      json
// @Security     ApiKeyAuth
// @Param        merchant_id  query  string  true  "Merchant ID"
// @Param        provider     query  string  true  "Provider"
// @Success      200  {object}  syncerdomain.SyncJob
// @Router       /sync/status [get]
func (s *Server) SyncStatus(c *gin.Context) {
	merchantID := strings.TrimSpace(c.Query("merchant_id"))
	provider := strings.TrimSpace(c.Query("provider"))
	if merchantID == "" || provider == "" {
		AbortWithError(c, newValidationError("merchant_id", "missing_pair", "merchant_id and provider are required"))
		return
	}

	job, err := s.syncSvc.GetSyncStatus(c.Request.Context(), merchantID, provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}
