package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	pointsdomain "github.com/localcard/localcard/internal/points/domain"
)

type earnPointsRequest struct {
	UserID     string         `json:"user_id"`
	Amount     int64          `json:"amount"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	SourceID   string         `json:"source_id"`
	MerchantID string         `json:"merchant_id"`
	WardNumber *int           `json:"ward_number"`
	Metadata   map[string]any `json:"metadata"`
}

// @Summary      Earn Points
// @Description  Credit points to a user
// @Tags         points
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body earnPointsRequest true "Earn Points Request"
// @Success      200  {object}  pointsdomain.Entry
// @Router       /points/earn [post]
func (s *Server) EarnPoints(c *gin.Context) {
	var req earnPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entryType := pointsdomain.EntryType(strings.TrimSpace(req.Type))
	if entryType == "" {
		entryType = pointsdomain.EntryTypeEarn
	}

	entry, err := s.pointsSvc.Earn(c.Request.Context(), pointsdomain.EarnRequest{
		UserID:     strings.TrimSpace(req.UserID),
		Amount:     req.Amount,
		Type:       entryType,
		Source:     strings.TrimSpace(req.Source),
		SourceID:   strings.TrimSpace(req.SourceID),
		MerchantID: strings.TrimSpace(req.MerchantID),
		WardNumber: req.WardNumber,
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type redeemPointsRequest struct {
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	MerchantID string `json:"merchant_id"`
	RewardID   string `json:"reward_id"`
}

// @Summary      Redeem Points
// @Description  Spend points against a reward
// @Tags         points
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body redeemPointsRequest true "Redeem Points Request"
// @Success      200  {object}  pointsdomain.Entry
// @Router       /points/redeem [post]
func (s *Server) RedeemPoints(c *gin.Context) {
	var req redeemPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.pointsSvc.Redeem(c.Request.Context(), pointsdomain.RedeemRequest{
		UserID:     strings.TrimSpace(req.UserID),
		Amount:     req.Amount,
		MerchantID: strings.TrimSpace(req.MerchantID),
		RewardID:   strings.TrimSpace(req.RewardID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// @Summary      Get Balance
// @Description  Get a user's point balance
// @Tags         points
// @Produce      json
// @Security     ApiKeyAuth
// @Param        user_id  path  string  true  "User ID"
// @Success      200  {object}  pointsdomain.Account
// @Router       /points/{user_id}/balance [get]
func (s *Server) GetBalance(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	account, err := s.pointsSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

// @Summary      Points History
// @Description  List a user's ledger entries, newest first
// @Tags         points
// @Produce      json
// @Security     ApiKeyAuth
// @Param        user_id  path   string  true   "User ID"
// @Param        limit    query  int     false  "Page Size"
// @Param        offset   query  int     false  "Offset"
// @Success      200  {object}  []pointsdomain.Entry
// @Router       /points/{user_id}/history [get]
func (s *Server) GetHistory(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := s.pointsSvc.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
