package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrSelfBid):
		return http.StatusForbidden, "sellers cannot bid on their own auction"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction is not active"
	case errors.Is(err, biddingerrors.ErrAuctionEnded):
		return http.StatusConflict, "auction has ended"
	case errors.Is(err, biddingerrors.ErrBuyNowUnavailable):
		return http.StatusConflict, "buy now is not available"
	case errors.Is(err, biddingerrors.ErrInvalidAmount),
		errors.Is(err, biddingerrors.ErrInvalidProxyCeiling),
		errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid status transition"
	case errors.Is(err, biddingerrors.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, "auction busy, retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondServiceError writes the mapped error and logs it. A too-low bid
// also reports the minimum acceptable amount.
func RespondServiceError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	wrapped := fmt.Errorf("%s: %w", message, err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}

	if minimum, ok := biddingerrors.MinimumBid(err); ok {
		utils.JSONErrorWithDetails(c, status, wrapped, message, gin.H{"minimum_bid": minimum.StringFixed(2)})
	} else {
		utils.JSONError(c, status, wrapped, message)
	}

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
