package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/localcard/localcard/internal/billing/domain"
	pointsdomain "github.com/localcard/localcard/internal/points/domain"
	providerdomain "github.com/localcard/localcard/internal/provider/domain"
	syncerdomain "github.com/localcard/localcard/internal/syncer/domain"
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

var (
	ErrUnauthorized = &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "unauthorized"}
	ErrNotFound     = &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "not found"}
	ErrRateLimited  = &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
)

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

// AbortWithError translates domain sentinel errors into HTTP responses.
// Unknown errors surface as 500 without leaking internals.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	switch {
	case isValidationError(err):
		status = http.StatusBadRequest
		code = err.Error()
		message = err.Error()
	case isNotFoundError(err):
		status = http.StatusNotFound
		code = err.Error()
		message = err.Error()
	case isConflictError(err):
		status = http.StatusConflict
		code = err.Error()
		message = err.Error()
	case errors.Is(err, pointsdomain.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		code = pointsdomain.ErrInsufficientBalance.Error()
		message = code
	case isUpstreamError(err):
		status = http.StatusBadGateway
		code = "provider_error"
		message = "provider request failed"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		pointsdomain.ErrInvalidUser,
		pointsdomain.ErrInvalidAmount,
		pointsdomain.ErrInvalidSource,
		pointsdomain.ErrInvalidEntryType,
		billingdomain.ErrInvalidMerchant,
		billingdomain.ErrInvalidTransaction,
		billingdomain.ErrInvalidFeePercent,
		billingdomain.ErrInvalidPeriod,
		providerdomain.ErrInvalidMerchant,
		providerdomain.ErrInvalidProvider,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	for _, sentinel := range []error{
		providerdomain.ErrConnectionNotFound,
		providerdomain.ErrProviderNotFound,
		billingdomain.ErrCycleNotFound,
		syncerdomain.ErrJobNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isConflictError(err error) bool {
	for _, sentinel := range []error{
		syncerdomain.ErrSyncAlreadyRunning,
		billingdomain.ErrInvalidCycleStatus,
		billingdomain.ErrCycleNotDue,
		providerdomain.ErrConnectionInactive,
		providerdomain.ErrNoRefreshCredential,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isUpstreamError(err error) bool {
	for _, sentinel := range []error{
		providerdomain.ErrAuthExchange,
		providerdomain.ErrRefreshRejected,
		providerdomain.ErrMerchantInfo,
		providerdomain.ErrProviderUnavailable,
		syncerdomain.ErrProviderFetch,
		syncerdomain.ErrSyncFailed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
