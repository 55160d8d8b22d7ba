package bidding

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BuyNow settles the auction immediately at its buy-it-now price.
// The delivery fee is quoted before the lock so the returned total matches
// the invoice that is emitted after commit. The snapshot is checked first so
// a purchase that cannot succeed never reaches the fee calculator.
func (s *BiddingService) BuyNow(ctx context.Context, auctionID, buyerID string) (model.BuyNowResult, error) {
	if strings.TrimSpace(auctionID) == "" || strings.TrimSpace(buyerID) == "" {
		return model.BuyNowResult{}, fmt.Errorf("service: %w - missing auctionID or buyerID", biddingerrors.ErrInvalidBid)
	}

	snapshot, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.BuyNowResult{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	if snapshot.Status != model.StatusActive {
		return model.BuyNowResult{}, fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auctionID, snapshot.Status)
	}

	var (
		deliveryFee decimal.Decimal
		quoted      bool
	)
	// an expired snapshot is ended under the lock below without a quote
	if s.clock.Now().Before(snapshot.EndTime) {
		if err := buyNowAvailable(snapshot, buyerID); err != nil {
			return model.BuyNowResult{}, fmt.Errorf("service: %w", err)
		}
		if deliveryFee, err = s.quoteDelivery(ctx, buyerID, snapshot); err != nil {
			return model.BuyNowResult{}, fmt.Errorf("service: %w", err)
		}
		quoted = true
	}

	var (
		result model.BuyNowResult
		sold   endOutcome
		ended  *endOutcome
	)
	err = s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()
		now := s.clock.Now()

		if auction.Status != model.StatusActive {
			return fmt.Errorf("%w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auctionID, auction.Status)
		}
		if !now.Before(auction.EndTime) {
			out, err := s.endAuction(ctx, tx, now)
			if err != nil {
				return err
			}
			ended = &out
			return nil
		}
		if err := buyNowAvailable(auction, buyerID); err != nil {
			return err
		}
		if !quoted {
			fee, err := s.quoteDelivery(ctx, buyerID, auction)
			if err != nil {
				return err
			}
			deliveryFee = fee
		}

		price := *auction.RealPrice
		bid, err := tx.AppendBid(ctx, model.Bid{
			BidID:     utils.GenerateID(),
			AuctionID: auctionID,
			UserID:    buyerID,
			Amount:    price,
			IsBuyNow:  true,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to record buy now for auction %s by user %s: %w", auctionID, buyerID, err)
		}

		winner := buyerID
		auction.CurrentPrice = price
		auction.Status = model.StatusEnded
		auction.WinnerID = &winner
		auction.EndTime = now
		auction.UpdatedAt = now
		if err := tx.SaveAuction(ctx, auction); err != nil {
			return fmt.Errorf("failed to settle auction %s: %w", auctionID, err)
		}

		inv := s.buildInvoice(auction, buyerID, deliveryFee, now)
		result = model.BuyNowResult{
			Bid:           bid,
			PurchasePrice: price,
			BidFee:        inv.BidFee,
			DeliveryFee:   inv.DeliveryFee,
			TotalWithFees: inv.TotalAmount,
		}
		sold = endOutcome{auction: auction, winner: &bid}
		return nil
	})
	if err != nil {
		return model.BuyNowResult{}, fmt.Errorf("service: %w", err)
	}
	if ended != nil {
		s.afterEnd(ctx, *ended)
		return model.BuyNowResult{}, fmt.Errorf("service: %w - auction %s closed at %s", biddingerrors.ErrAuctionEnded, auctionID, ended.auction.EndTime.Format(time.RFC3339))
	}

	s.settle(ctx, sold, result)
	utils.Info("auction bought", map[string]any{
		"auction_id": auctionID,
		"buyer_id":   buyerID,
		"price":      result.PurchasePrice.StringFixed(2),
		"total":      result.TotalWithFees.StringFixed(2),
	})
	return result, nil
}

// buyNowAvailable reports whether buyerID may buy auction outright
func buyNowAvailable(auction model.Auction, buyerID string) error {
	if auction.RealPrice == nil || !auction.RealPrice.IsPositive() || auction.RealPrice.LessThan(auction.CurrentPrice) {
		return fmt.Errorf("%w - auction %s", biddingerrors.ErrBuyNowUnavailable, auction.AuctionID)
	}
	if buyerID == auction.SellerID {
		return fmt.Errorf("%w - user %s sells auction %s", biddingerrors.ErrSelfBid, buyerID, auction.AuctionID)
	}
	return nil
}

func (s *BiddingService) quoteDelivery(ctx context.Context, buyerID string, auction model.Auction) (decimal.Decimal, error) {
	fee, err := s.fees.DeliveryFee(ctx, buyerID, auction)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to quote delivery for auction %s: %w", auction.AuctionID, err)
	}
	return fee, nil
}

// settle emits the buy-now invoice with the quoted delivery fee, then the
// usual end-of-auction event and won notification
func (s *BiddingService) settle(ctx context.Context, o endOutcome, r model.BuyNowResult) {
	ctx = context.WithoutCancel(ctx)
	auction := o.auction
	buyerID := o.winner.UserID

	inv := s.buildInvoice(auction, buyerID, r.DeliveryFee, auction.UpdatedAt)
	s.dispatcher.Dispatch(ctx, "invoice:"+auction.AuctionID, func(ctx context.Context) error {
		return s.invoices.CreateInvoice(ctx, inv)
	})

	s.events.Publish(model.AuctionEvent{
		Type:         model.EventEnded,
		AuctionID:    auction.AuctionID,
		CurrentPrice: auction.CurrentPrice,
		LeaderID:     buyerID,
		EndTime:      auction.EndTime,
		Status:       auction.Status,
	})

	won := model.Notification{
		EventID:   "won:" + auction.AuctionID,
		UserID:    buyerID,
		Kind:      model.NotificationWon,
		AuctionID: auction.AuctionID,
		Context: map[string]string{
			"final_price": auction.CurrentPrice.StringFixed(2),
			"title":       auction.Title,
			"buy_now":     "true",
		},
	}
	s.dispatcher.Dispatch(ctx, won.EventID, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, won)
	})
}
