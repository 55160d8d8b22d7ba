package bidding

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// endOutcome is a committed Active -> Ended transition
type endOutcome struct {
	auction model.Auction
	winner  *model.Bid
}

// endAuction moves the locked auction to Ended and records the winner.
// The caller holds the auction lock; side effects run after commit via afterEnd.
func (s *BiddingService) endAuction(ctx context.Context, tx repository.AuctionTx, now time.Time) (endOutcome, error) {
	auction := tx.Auction()
	if !auction.Status.CanTransitionTo(model.StatusEnded) {
		return endOutcome{}, fmt.Errorf("%w - auction %s is %s", biddingerrors.ErrInvalidTransition, auction.AuctionID, auction.Status)
	}

	bids, err := tx.Bids(ctx)
	if err != nil {
		return endOutcome{}, fmt.Errorf("failed to load bids for auction %s: %w", auction.AuctionID, err)
	}

	out := endOutcome{}
	auction.Status = model.StatusEnded
	auction.UpdatedAt = now
	if winning, ok := repository.HighestBid(bids); ok {
		winnerID := winning.UserID
		auction.WinnerID = &winnerID
		auction.CurrentPrice = winning.Amount
		out.winner = &winning
	}

	if err := tx.SaveAuction(ctx, auction); err != nil {
		return endOutcome{}, fmt.Errorf("failed to end auction %s: %w", auction.AuctionID, err)
	}
	out.auction = auction
	return out, nil
}

// afterEnd publishes the end event and, when there is a winner, schedules the
// invoice and the won notification. It runs once per committed transition.
func (s *BiddingService) afterEnd(ctx context.Context, o endOutcome) {
	fields := map[string]any{
		"auction_id":    o.auction.AuctionID,
		"current_price": o.auction.CurrentPrice.StringFixed(2),
	}
	if o.winner != nil {
		fields["winner_id"] = o.winner.UserID
	}
	utils.Info("auction ended", fields)

	event := model.AuctionEvent{
		Type:         model.EventEnded,
		AuctionID:    o.auction.AuctionID,
		CurrentPrice: o.auction.CurrentPrice,
		EndTime:      o.auction.EndTime,
		Status:       o.auction.Status,
	}
	if o.winner != nil {
		event.LeaderID = o.winner.UserID
	}
	s.events.Publish(event)

	if o.winner == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	auction := o.auction
	winnerID := o.winner.UserID
	s.scheduleInvoice(ctx, auction, winnerID)

	won := model.Notification{
		EventID:   "won:" + auction.AuctionID,
		UserID:    winnerID,
		Kind:      model.NotificationWon,
		AuctionID: auction.AuctionID,
		Context: map[string]string{
			"final_price": auction.CurrentPrice.StringFixed(2),
			"title":       auction.Title,
		},
	}
	s.dispatcher.Dispatch(ctx, won.EventID, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, won)
	})
}

// scheduleInvoice quotes delivery and records the winner's invoice, dated
// at the auction's end
func (s *BiddingService) scheduleInvoice(ctx context.Context, auction model.Auction, winnerID string) {
	s.dispatcher.Dispatch(ctx, "invoice:"+auction.AuctionID, func(ctx context.Context) error {
		fee, err := s.fees.DeliveryFee(ctx, winnerID, auction)
		if err != nil {
			return fmt.Errorf("delivery fee for auction %s: %w", auction.AuctionID, err)
		}
		return s.invoices.CreateInvoice(ctx, s.buildInvoice(auction, winnerID, fee, auction.UpdatedAt))
	})
}

// buildInvoice prices an invoice: bid fee is rounded to cents
func (s *BiddingService) buildInvoice(auction model.Auction, userID string, deliveryFee decimal.Decimal, createdAt time.Time) model.Invoice {
	item := auction.CurrentPrice
	bidFee := item.Mul(s.settings.BidFeeRate).Round(2)
	return model.Invoice{
		InvoiceID:     utils.DeterministicID("invoice", auction.AuctionID, userID),
		AuctionID:     auction.AuctionID,
		UserID:        userID,
		ItemPrice:     item,
		BidFee:        bidFee,
		DeliveryFee:   deliveryFee,
		TotalAmount:   item.Add(bidFee).Add(deliveryFee),
		PaymentStatus: model.PaymentPending,
		CreatedAt:     createdAt,
	}
}

// ReconcileIfExpired ends the auction if its end time has passed and returns
// its current state. Repeated calls after the transition are no-ops.
func (s *BiddingService) ReconcileIfExpired(ctx context.Context, auctionID string) (model.Auction, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	if auction.Status != model.StatusActive || s.clock.Now().Before(auction.EndTime) {
		return auction, nil
	}

	var ended *endOutcome
	err = s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		current := tx.Auction()
		now := s.clock.Now()
		// a racing bid may have extended the deadline or another caller ended it
		if current.Status != model.StatusActive || now.Before(current.EndTime) {
			auction = current
			return nil
		}
		out, err := s.endAuction(ctx, tx, now)
		if err != nil {
			return err
		}
		ended = &out
		auction = out.auction
		return nil
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	if ended != nil {
		s.afterEnd(ctx, *ended)
	}
	return auction, nil
}

// ReconcileExpired ends every Active auction whose end time has passed and
// returns how many of them are now Ended. Lock conflicts are skipped and left
// for the next pass.
func (s *BiddingService) ReconcileExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.ListExpiredAuctionIDs(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("service: failed to list expired auctions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		mu    sync.Mutex
		ended int
		errs  []error
	)
	var g errgroup.Group
	g.SetLimit(s.settings.SweepConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			auction, err := s.ReconcileIfExpired(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if auction.Status == model.StatusEnded {
					ended++
				}
			case biddingerrors.IsRetryable(err):
				utils.Warn("reconcile skipped, auction busy", map[string]any{"auction_id": id})
			default:
				errs = append(errs, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return ended, errors.Join(errs...)
}

// invoiceLookup is implemented by ledgers that can tell whether an invoice exists
type invoiceLookup interface {
	GetInvoice(ctx context.Context, auctionID, userID string) (model.Invoice, error)
}

// ReissueInvoices schedules the winner invoice of every Ended auction the
// ledger has no record of, and returns how many were scheduled. Retries still
// queued when the process stopped are lost, so this runs once at startup.
// Ledgers without a lookup get every invoice again and rely on CreateInvoice
// being idempotent per (auction, user).
func (s *BiddingService) ReissueInvoices(ctx context.Context) (int, error) {
	auctions, err := s.repo.ListAuctions(ctx, model.StatusEnded)
	if err != nil {
		return 0, fmt.Errorf("service: failed to list ended auctions: %w", err)
	}

	lookup, canLookup := s.invoices.(invoiceLookup)
	ctx = context.WithoutCancel(ctx)
	scheduled := 0
	for _, auction := range auctions {
		if auction.WinnerID == nil {
			continue
		}
		winnerID := *auction.WinnerID
		if canLookup {
			if _, err := lookup.GetInvoice(ctx, auction.AuctionID, winnerID); err == nil {
				continue
			}
		}
		s.scheduleInvoice(ctx, auction, winnerID)
		scheduled++
	}

	if scheduled > 0 {
		utils.Info("invoices reissued", map[string]any{"count": scheduled, "checked_ledger": canLookup})
	}
	return scheduled, nil
}

// RunSweeper calls ReconcileExpired every interval until ctx is done.
// Reads reconcile lazily, so the sweeper only shortens how long an expired
// auction waits for its invoice.
func (s *BiddingService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	utils.Info("auction sweeper started", map[string]any{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			utils.Info("auction sweeper stopped", nil)
			return
		case <-ticker.C:
			n, err := s.ReconcileExpired(ctx)
			if err != nil {
				utils.Error("auction sweep failed", map[string]any{"error": err.Error(), "ended": n})
				continue
			}
			if n > 0 {
				utils.Info("auction sweep finished", map[string]any{"ended": n})
			}
		}
	}
}
