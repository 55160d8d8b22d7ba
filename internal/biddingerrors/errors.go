package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
)

// business logic errors
var (
	ErrInvalidBid          = errors.New("invalid bid")
	ErrInvalidAuction      = errors.New("invalid auction")
	ErrAuctionNotActive    = errors.New("auction is not active")
	ErrAuctionEnded        = errors.New("auction has ended")
	ErrSelfBid             = errors.New("sellers cannot bid on their own auction")
	ErrInvalidAmount       = errors.New("bid amount must be positive")
	ErrBidTooLow           = errors.New("bid amount too low")
	ErrInvalidProxyCeiling = errors.New("invalid proxy ceiling")
	ErrBuyNowUnavailable   = errors.New("buy now is not available for this auction")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ErrConcurrencyConflict means the auction lock could not be acquired in time.
// It is the only retryable error.
var ErrConcurrencyConflict = errors.New("concurrency conflict, retry")

// ErrSinkUnavailable marks a post-commit side effect that failed and is retried out of band.
var ErrSinkUnavailable = errors.New("sink unavailable")

// BidTooLowError carries the minimum acceptable amount so a client can retry
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: minimum acceptable bid is %s", ErrBidTooLow, e.Minimum.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// MinimumBid extracts the minimum from a BidTooLow error chain
func MinimumBid(err error) (decimal.Decimal, bool) {
	var low *BidTooLowError
	if errors.As(err, &low) {
		return low.Minimum, true
	}
	return decimal.Zero, false
}

// IsRetryable reports whether err may succeed on retry against fresh state
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
