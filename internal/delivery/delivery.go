// Package delivery prices shipping to the winner of an auction.
package delivery

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ZoneCalculator charges a flat fee per delivery zone of the recipient
type ZoneCalculator struct {
	users      repository.UserStore
	fees       map[string]decimal.Decimal
	defaultFee decimal.Decimal
}

// NewZoneCalculator builds a calculator; zone names are matched case-insensitively
func NewZoneCalculator(users repository.UserStore, fees map[string]decimal.Decimal, defaultFee decimal.Decimal) *ZoneCalculator {
	normalized := make(map[string]decimal.Decimal, len(fees))
	for zone, fee := range fees {
		normalized[strings.ToLower(strings.TrimSpace(zone))] = fee
	}
	return &ZoneCalculator{users: users, fees: normalized, defaultFee: defaultFee}
}

// DeliveryFee returns the fee for shipping auction's item to userID.
// Unknown users and zones get the default fee.
func (z *ZoneCalculator) DeliveryFee(ctx context.Context, userID string, auction model.Auction) (decimal.Decimal, error) {
	user, err := z.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrUserNotFound) {
			utils.Warn("delivery fee: unknown user, using default fee", map[string]any{
				"user_id":    userID,
				"auction_id": auction.AuctionID,
			})
			return z.defaultFee, nil
		}
		return decimal.Zero, fmt.Errorf("delivery fee for user %s: %w", userID, err)
	}

	fee, ok := z.fees[strings.ToLower(strings.TrimSpace(user.DeliveryZone))]
	if !ok {
		utils.Warn("delivery fee: unknown zone, using default fee", map[string]any{
			"user_id": userID,
			"zone":    user.DeliveryZone,
		})
		return z.defaultFee, nil
	}
	return fee, nil
}

// ParseFees parses "zone=fee,zone=fee" into a fee table
func ParseFees(raw string) (map[string]decimal.Decimal, error) {
	fees := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		zone, amount, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(zone) == "" {
			return nil, fmt.Errorf("delivery fee entry %q: expected zone=fee", part)
		}
		fee, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("delivery fee entry %q: %w", part, err)
		}
		if fee.IsNegative() {
			return nil, fmt.Errorf("delivery fee entry %q: fee must not be negative", part)
		}
		fees[strings.ToLower(strings.TrimSpace(zone))] = fee
	}
	return fees, nil
}
