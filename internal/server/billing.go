package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
)

type calculateFeeRequest struct {
	MerchantID    string  `json:"merchant_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        int64   `json:"amount"`
	FeePercent    float64 `json:"fee_percent"`
}

// @Summary      Calculate Fee
// @Description  Record the platform fee for one transaction
// @Tags         billing
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body calculateFeeRequest true "Calculate Fee Request"
// @Success      200  {object}  billingdomain.FeeRecord
// @Router       /billing/fees [post]
func (s *Server) CalculateFee(c *gin.Context) {
	var req calculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	feePercent := req.FeePercent
	if feePercent == 0 {
		feePercent = s.cfg.Billing.TransactionFeePercent
	}

	record, err := s.billingSvc.CalculateFee(c.Request.Context(), billingdomain.FeeRequest{
		MerchantID:    strings.TrimSpace(req.MerchantID),
		TransactionID: strings.TrimSpace(req.TransactionID),
		Amount:        req.Amount,
		FeePercent:    feePercent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

type closeCycleRequest struct {
	MerchantID  string `json:"merchant_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// @Summary      Close Billing Cycle
// @Description  Roll the period's fees into a draft billing cycle
// @Tags         billing
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body closeCycleRequest true "Close Cycle Request"
// @Success      200  {object}  billingdomain.Cycle
// @Router       /billing/cycles/close [post]
func (s *Server) CloseBillingCycle(c *gin.Context) {
	var req closeCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	periodStart, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PeriodStart))
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PeriodEnd))
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "invalid period_end"))
		return
	}

	cycle, err := s.billingSvc.CloseBillingCycle(c.Request.Context(), strings.TrimSpace(req.MerchantID), periodStart, periodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cycle})
}

// @Summary      Issue Cycle
// @Description  Move a draft cycle to pending
// @Tags         billing
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Cycle ID"
// @Success      200  {object}  billingdomain.Cycle
// @Router       /billing/cycles/{id}/issue [post]
func (s *Server) IssueCycle(c *gin.Context) {
	s.transitionCycle(c, s.billingSvc.MarkPending)
}

// @Summary      Pay Cycle
// @Description  Settle a pending cycle
// @Tags         billing
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Cycle ID"
// @Success      200  {object}  billingdomain.Cycle
// @Router       /billing/cycles/{id}/pay [post]
func (s *Server) PayCycle(c *gin.Context) {
	s.transitionCycle(c, s.billingSvc.MarkPaid)
}

// @Summary      Flag Cycle Overdue
// @Description  Mark a pending cycle past its due date as overdue
// @Tags         billing
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id  path  string  true  "Cycle ID"
// @Success      200  {object}  billingdomain.Cycle
// @Router       /billing/cycles/{id}/overdue [post]
func (s *Server) FlagCycleOverdue(c *gin.Context) {
	s.transitionCycle(c, s.billingSvc.MarkOverdue)
}

func (s *Server) transitionCycle(c *gin.Context, transition func(ctx context.Context, cycleID snowflake.ID) (*billingdomain.Cycle, error)) {
	cycleID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_cycle_id", "invalid cycle id"))
		return
	}

	cycle, err := transition(c.Request.Context(), cycleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cycle})
}

// @Summary      Billing Analytics
// @Description  Current period, previous cycle, and year-to-date overview
// @Tags         billing
// @Produce      json
// @Security     ApiKeyAuth
// @Param        merchant_id  path  string  true  "Merchant ID"
// @Success      200  {object}  billingdomain.Analytics
// @Router       /billing/analytics/{merchant_id} [get]
func (s *Server) BillingAnalytics(c *gin.Context) {
	merchantID := strings.TrimSpace(c.Param("merchant_id"))
	analytics, err := s.billingSvc.Analytics(c.Request.Context(), merchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": analytics})
}
