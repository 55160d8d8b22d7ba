package bidding

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the engine constants supplied at construction time
type Settings struct {
	AntiSnipeThreshold time.Duration
	AntiSnipeExtension time.Duration
	BidFeeRate         decimal.Decimal
	SweepConcurrency   int
}

// DefaultSettings returns a 120s anti-snipe window and a 1% bid fee
func DefaultSettings() Settings {
	return Settings{
		AntiSnipeThreshold: 120 * time.Second,
		AntiSnipeExtension: 120 * time.Second,
		BidFeeRate:         decimal.RequireFromString("0.01"),
		SweepConcurrency:   8,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.AntiSnipeThreshold <= 0 {
		s.AntiSnipeThreshold = d.AntiSnipeThreshold
	}
	if s.AntiSnipeExtension <= 0 {
		s.AntiSnipeExtension = d.AntiSnipeExtension
	}
	if s.BidFeeRate.IsNegative() {
		s.BidFeeRate = d.BidFeeRate
	}
	if s.SweepConcurrency <= 0 {
		s.SweepConcurrency = d.SweepConcurrency
	}
	return s
}

// Collaborators are the engine's outbound dependencies. Nil fields fall
// back to no-op implementations and the system clock.
type Collaborators struct {
	Notifier   Notifier
	Invoices   InvoiceLedger
	Fees       DeliveryFeeCalculator
	Events     EventPublisher
	Dispatcher Dispatcher
	Clock      clock.Clock
}

// BiddingService is the bid placement and auction lifecycle engine
type BiddingService struct {
	repo     repository.AuctionDB
	settings Settings

	notifier   Notifier
	invoices   InvoiceLedger
	fees       DeliveryFeeCalculator
	events     EventPublisher
	dispatcher Dispatcher
	clock      clock.Clock
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, settings Settings, deps Collaborators) *BiddingService {
	s := &BiddingService{
		repo:       repo,
		settings:   settings.withDefaults(),
		notifier:   deps.Notifier,
		invoices:   deps.Invoices,
		fees:       deps.Fees,
		events:     deps.Events,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.invoices == nil {
		s.invoices = nopLedger{}
	}
	if s.fees == nil {
		s.fees = flatFee(decimal.Zero)
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.dispatcher == nil {
		s.dispatcher = inlineDispatcher{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	return s
}

// PlaceBidRequest is one bid attempt. ProxyCeiling registers a proxy bid.
type PlaceBidRequest struct {
	AuctionID    string
	UserID       string
	Amount       decimal.Decimal
	ProxyCeiling *decimal.Decimal
}

// bidOutcome is what PlaceBid committed, used for post-commit side effects
type bidOutcome struct {
	auction       model.Auction
	bid           model.Bid
	counter       *model.Bid
	previousOwner string
	extended      bool
}

// PlaceBid validates and records a bid, resolves standing proxies and applies
// the anti-snipe rule, all under the auction's lock.
func (s *BiddingService) PlaceBid(ctx context.Context, req PlaceBidRequest) (model.BidResult, error) {
	if strings.TrimSpace(req.AuctionID) == "" || strings.TrimSpace(req.UserID) == "" {
		return model.BidResult{}, fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidBid)
	}

	var (
		outcome bidOutcome
		ended   *endOutcome
	)
	err := s.repo.WithAuctionLock(ctx, req.AuctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()
		now := s.clock.Now()

		if auction.Status != model.StatusActive {
			return fmt.Errorf("%w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auction.AuctionID, auction.Status)
		}
		if !now.Before(auction.EndTime) {
			out, err := s.endAuction(ctx, tx, now)
			if err != nil {
				return err
			}
			ended = &out
			return nil
		}
		if err := validateBid(auction, req); err != nil {
			return err
		}

		history, err := tx.Bids(ctx)
		if err != nil {
			return fmt.Errorf("failed to load bids for auction %s: %w", auction.AuctionID, err)
		}
		previous, _ := previousLeader(history, req.UserID)

		bid, err := tx.AppendBid(ctx, model.Bid{
			BidID:        utils.GenerateID(),
			AuctionID:    auction.AuctionID,
			UserID:       req.UserID,
			Amount:       req.Amount,
			IsProxy:      req.ProxyCeiling != nil,
			ProxyCeiling: req.ProxyCeiling,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("failed to record bid for auction %s by user %s: %w", auction.AuctionID, req.UserID, err)
		}
		auction.CurrentPrice = bid.Amount

		var counter *model.Bid
		if pc, ok := resolveProxy(append(history, bid), req.UserID, bid.Amount, auction.Increment); ok {
			ceiling := pc.ceiling
			stored, err := tx.AppendBid(ctx, model.Bid{
				BidID:        utils.GenerateID(),
				AuctionID:    auction.AuctionID,
				UserID:       pc.userID,
				Amount:       pc.amount,
				IsProxy:      true,
				ProxyCeiling: &ceiling,
				CreatedAt:    now,
			})
			if err != nil {
				return fmt.Errorf("failed to record proxy bid for auction %s by user %s: %w", auction.AuctionID, pc.userID, err)
			}
			counter = &stored
			auction.CurrentPrice = stored.Amount
		}

		newEnd, extended := extendDeadline(auction.EndTime, now, s.settings.AntiSnipeThreshold, s.settings.AntiSnipeExtension)
		auction.EndTime = newEnd
		auction.UpdatedAt = now

		if err := tx.SaveAuction(ctx, auction); err != nil {
			return fmt.Errorf("failed to update auction %s: %w", auction.AuctionID, err)
		}

		outcome = bidOutcome{auction: auction, bid: bid, counter: counter, previousOwner: previous, extended: extended}
		return nil
	})
	if err != nil {
		return model.BidResult{}, fmt.Errorf("service: %w", err)
	}
	if ended != nil {
		s.afterEnd(ctx, *ended)
		return model.BidResult{}, fmt.Errorf("service: %w - auction %s closed at %s", biddingerrors.ErrAuctionEnded, req.AuctionID, ended.auction.EndTime.Format(time.RFC3339))
	}

	s.afterBid(ctx, outcome)

	leader := outcome.bid.UserID
	if outcome.counter != nil {
		leader = outcome.counter.UserID
	}
	utils.Info("bid accepted", map[string]any{
		"auction_id":        outcome.auction.AuctionID,
		"bid_id":            outcome.bid.BidID,
		"user_id":           outcome.bid.UserID,
		"amount":            outcome.bid.Amount.StringFixed(2),
		"current_price":     outcome.auction.CurrentPrice.StringFixed(2),
		"proxy_countered":   outcome.counter != nil,
		"deadline_extended": outcome.extended,
	})

	return model.BidResult{
		Bid:              outcome.bid,
		CounterBid:       outcome.counter,
		NewCurrentPrice:  outcome.auction.CurrentPrice,
		LeaderID:         leader,
		DeadlineExtended: outcome.extended,
		NewEndTime:       outcome.auction.EndTime,
	}, nil
}

// validateBid checks the bid against the locked auction state, in order
func validateBid(auction model.Auction, req PlaceBidRequest) error {
	if req.UserID == auction.SellerID {
		return fmt.Errorf("%w - user %s sells auction %s", biddingerrors.ErrSelfBid, req.UserID, auction.AuctionID)
	}
	if !req.Amount.IsPositive() || !model.IsCents(req.Amount) {
		return fmt.Errorf("%w - got %s", biddingerrors.ErrInvalidAmount, req.Amount.String())
	}
	minimum := auction.MinimumBid()
	if req.Amount.LessThan(minimum) {
		// rounded up so the reported minimum is itself acceptable
		return &biddingerrors.BidTooLowError{Minimum: minimum.RoundCeil(2)}
	}
	if req.ProxyCeiling != nil {
		ceiling := *req.ProxyCeiling
		if !ceiling.IsPositive() || !model.IsCents(ceiling) || ceiling.LessThan(req.Amount) {
			return fmt.Errorf("%w - ceiling %s must be positive cents not below the bid amount %s",
				biddingerrors.ErrInvalidProxyCeiling, ceiling.String(), req.Amount.String())
		}
	}
	return nil
}

// afterBid sends outbid alerts and the live update once the bid is committed
func (s *BiddingService) afterBid(ctx context.Context, o bidOutcome) {
	final := o.bid
	if o.counter != nil {
		final = *o.counter
	}

	var recipients []string
	if o.previousOwner != "" && o.previousOwner != final.UserID {
		recipients = append(recipients, o.previousOwner)
	}
	if o.counter != nil {
		recipients = append(recipients, o.bid.UserID)
	}

	for _, userID := range recipients {
		n := model.Notification{
			EventID:   fmt.Sprintf("outbid:%s:%s:%s", o.auction.AuctionID, final.BidID, userID),
			UserID:    userID,
			Kind:      model.NotificationOutbid,
			AuctionID: o.auction.AuctionID,
			Context: map[string]string{
				"current_price": o.auction.CurrentPrice.StringFixed(2),
				"leader_id":     final.UserID,
				"end_time":      o.auction.EndTime.Format(time.RFC3339),
			},
		}
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), n.EventID, func(ctx context.Context) error {
			return s.notifier.Notify(ctx, n)
		})
	}

	s.events.Publish(model.AuctionEvent{
		Type:         model.EventBidPlaced,
		AuctionID:    o.auction.AuctionID,
		CurrentPrice: o.auction.CurrentPrice,
		LeaderID:     final.UserID,
		EndTime:      o.auction.EndTime,
		Status:       o.auction.Status,
	})
	if o.extended {
		s.events.Publish(model.AuctionEvent{
			Type:         model.EventExtended,
			AuctionID:    o.auction.AuctionID,
			CurrentPrice: o.auction.CurrentPrice,
			LeaderID:     final.UserID,
			EndTime:      o.auction.EndTime,
			Status:       o.auction.Status,
		})
	}
}

// CreateAuctionRequest describes a new listing
type CreateAuctionRequest struct {
	SellerID      string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	Increment     decimal.Decimal
	RealPrice     *decimal.Decimal
	EndTime       time.Time
}

// CreateAuction lists a new Active auction
func (s *BiddingService) CreateAuction(ctx context.Context, req CreateAuctionRequest) (model.Auction, error) {
	now := s.clock.Now()
	if err := validateAuction(req, now); err != nil {
		return model.Auction{}, err
	}

	auction := model.Auction{
		AuctionID:     utils.GenerateID(),
		SellerID:      req.SellerID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		Increment:     req.Increment,
		CurrentPrice:  req.StartingPrice,
		RealPrice:     req.RealPrice,
		StartTime:     now,
		EndTime:       req.EndTime.UTC(),
		Status:        model.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := s.repo.CreateAuction(ctx, auction)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction for seller %s: %w", req.SellerID, err)
	}

	utils.Info("auction created", map[string]any{
		"auction_id": created.AuctionID,
		"seller_id":  created.SellerID,
		"end_time":   created.EndTime.Format(time.RFC3339),
	})
	return created, nil
}

func validateAuction(req CreateAuctionRequest, now time.Time) error {
	if strings.TrimSpace(req.SellerID) == "" || strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("service: %w - missing sellerID or title", biddingerrors.ErrInvalidAuction)
	}
	if !req.StartingPrice.IsPositive() {
		return fmt.Errorf("service: %w - starting price must be positive", biddingerrors.ErrInvalidAuction)
	}
	if !req.Increment.IsPositive() {
		return fmt.Errorf("service: %w - increment must be positive", biddingerrors.ErrInvalidAuction)
	}
	if !model.IsCents(req.StartingPrice) || !model.IsCents(req.Increment) || (req.RealPrice != nil && !model.IsCents(*req.RealPrice)) {
		return fmt.Errorf("service: %w - prices must be whole cents", biddingerrors.ErrInvalidAuction)
	}
	if !req.EndTime.After(now) {
		return fmt.Errorf("service: %w - end time must be in the future", biddingerrors.ErrInvalidAuction)
	}
	if req.RealPrice != nil && req.RealPrice.LessThan(req.StartingPrice) {
		return fmt.Errorf("service: %w - buy now price below starting price", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// CancelAuction moves an Active auction to Cancelled. An auction whose end
// time has passed is ended instead and ErrAuctionEnded is returned.
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if strings.TrimSpace(auctionID) == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	var (
		cancelled model.Auction
		ended     *endOutcome
	)
	err := s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()
		now := s.clock.Now()

		if auction.Status == model.StatusActive && !now.Before(auction.EndTime) {
			out, err := s.endAuction(ctx, tx, now)
			if err != nil {
				return err
			}
			ended = &out
			return nil
		}
		if !auction.Status.CanTransitionTo(model.StatusCancelled) {
			return fmt.Errorf("%w - auction %s is %s", biddingerrors.ErrInvalidTransition, auctionID, auction.Status)
		}

		auction.Status = model.StatusCancelled
		auction.UpdatedAt = now
		if err := tx.SaveAuction(ctx, auction); err != nil {
			return fmt.Errorf("failed to cancel auction %s: %w", auctionID, err)
		}
		cancelled = auction
		return nil
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	if ended != nil {
		s.afterEnd(ctx, *ended)
		return model.Auction{}, fmt.Errorf("service: %w - auction %s closed before cancellation", biddingerrors.ErrAuctionEnded, auctionID)
	}

	s.events.Publish(model.AuctionEvent{
		Type:         model.EventCancelled,
		AuctionID:    cancelled.AuctionID,
		CurrentPrice: cancelled.CurrentPrice,
		EndTime:      cancelled.EndTime,
		Status:       cancelled.Status,
	})
	utils.Info("auction cancelled", map[string]any{"auction_id": auctionID})
	return cancelled, nil
}

// GetAuction returns an auction after reconciling its expiry
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	return s.ReconcileIfExpired(ctx, auctionID)
}

// ListAuctions reconciles expired auctions and lists those with status; empty lists all
func (s *BiddingService) ListAuctions(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("service: %w - unknown status %q", biddingerrors.ErrInvalidAuction, status)
	}
	if _, err := s.ReconcileExpired(ctx); err != nil {
		utils.Warn("reconcile before listing failed", map[string]any{"error": err.Error()})
	}

	auctions, err := s.repo.ListAuctions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetBidsForAuction returns all bids for a specific auction
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	if _, err := s.ReconcileIfExpired(ctx, auctionID); err != nil {
		return nil, err
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid for a specific auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if auctionID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	if _, err := s.ReconcileIfExpired(ctx, auctionID); err != nil {
		return model.Bid{}, err
	}

	winningBid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	return winningBid, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}

	now := s.clock.Now()
	for i, a := range auctions {
		if a.Status != model.StatusActive || now.Before(a.EndTime) {
			continue
		}
		fresh, err := s.ReconcileIfExpired(ctx, a.AuctionID)
		if err != nil {
			return nil, err
		}
		auctions[i] = fresh
	}
	return auctions, nil
}

// GetBidsByUser returns a bidder's history, newest first, with each auction
// reconciled so that winning flags reflect any expiry that already passed.
func (s *BiddingService) GetBidsByUser(ctx context.Context, userID string) ([]model.UserBid, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByUser(ctx, userID)
	if errors.Is(err, biddingerrors.ErrUserNoBids) {
		return []model.UserBid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}

	auctions := make(map[string]model.Auction)
	leaders := make(map[string]string)
	for _, b := range bids {
		if _, ok := auctions[b.AuctionID]; ok {
			continue
		}
		auction, err := s.ReconcileIfExpired(ctx, b.AuctionID)
		if err != nil {
			return nil, err
		}
		auctions[b.AuctionID] = auction
		if auction.Status != model.StatusActive {
			continue
		}
		top, err := s.repo.GetWinningBid(ctx, b.AuctionID)
		if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
			return nil, fmt.Errorf("service: failed to get winning bid for auction %s: %w", b.AuctionID, err)
		}
		leaders[b.AuctionID] = top.BidID
	}

	out := make([]model.UserBid, 0, len(bids))
	for _, b := range bids {
		auction := auctions[b.AuctionID]
		out = append(out, model.UserBid{
			Bid:           b,
			AuctionTitle:  auction.Title,
			AuctionStatus: auction.Status,
			CurrentPrice:  auction.CurrentPrice,
			WinnerID:      auction.WinnerID,
			IsWinning:     auction.Status == model.StatusActive && leaders[b.AuctionID] == b.BidID,
			IsWinner:      auction.Status == model.StatusEnded && auction.WinnerID != nil && *auction.WinnerID == userID,
		})
	}
	return out, nil
}

// GetAuctionsBySeller lists a seller's auctions ordered by end time, each
// with its distinct bidder count
func (s *BiddingService) GetAuctionsBySeller(ctx context.Context, sellerID string) ([]model.SellerListing, error) {
	if strings.TrimSpace(sellerID) == "" {
		return nil, fmt.Errorf("service: %w - empty seller ID", biddingerrors.ErrInvalidAuction)
	}

	auctions, err := s.repo.GetAuctionsBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for seller %s: %w", sellerID, err)
	}

	now := s.clock.Now()
	out := make([]model.SellerListing, 0, len(auctions))
	for _, a := range auctions {
		if a.Status == model.StatusActive && !now.Before(a.EndTime) {
			if a, err = s.ReconcileIfExpired(ctx, a.AuctionID); err != nil {
				return nil, err
			}
		}

		bids, err := s.repo.GetBidsByAuction(ctx, a.AuctionID)
		if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
			return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", a.AuctionID, err)
		}
		bidders := make(map[string]struct{}, len(bids))
		for _, b := range bids {
			bidders[b.UserID] = struct{}{}
		}
		out = append(out, model.SellerListing{Auction: a, BidderCount: len(bidders)})
	}
	return out, nil
}
