package handler

import (
	"context"
	"errors"
	"net/http"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, req bidding.CreateAuctionRequest) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error)
	CancelAuction(ctx context.Context, auctionID string) (model.Auction, error)
	PlaceBid(ctx context.Context, req bidding.PlaceBidRequest) (model.BidResult, error)
	BuyNow(ctx context.Context, auctionID, buyerID string) (model.BuyNowResult, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.UserBid, error)
	GetAuctionsBySeller(ctx context.Context, sellerID string) ([]model.SellerListing, error)
}

// LiveFeed upgrades a request into a live event stream for one auction
type LiveFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, auctionID string) error
}

type BiddingHandler struct {
	service BiddingServiceInterface
	feed    LiveFeed
}

func NewBiddingHandler(service BiddingServiceInterface, feed LiveFeed) *BiddingHandler {
	return &BiddingHandler{service: service, feed: feed}
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), bidding.CreateAuctionRequest{
		SellerID:      req.SellerID,
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		Increment:     req.Increment,
		RealPrice:     req.RealPrice,
		EndTime:       req.EndTime,
	})
	if err != nil {
		helpers.RespondServiceError(c, "CreateAuctionHandler", err, map[string]any{"seller_id": req.SellerID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  auction.SellerID,
	})
}

// ListAuctionsHandler handles GET /auctions?status=
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	status := model.AuctionStatus(c.Query("status"))
	auctions, err := h.service.ListAuctions(c.Request.Context(), status)
	if err != nil {
		helpers.RespondServiceError(c, "ListAuctionsHandler", err, map[string]any{"status": string(status)})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{
		"status": string(status),
		"count":  len(auctions),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondServiceError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction retrieved successfully")
}

// CancelAuctionHandler handles POST /auctions/:auction_id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.CancelAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondServiceError(c, "CancelAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction cancelled successfully")
	helpers.LogSuccess("CancelAuctionHandler", "auction cancelled successfully", map[string]any{"auction_id": auctionID})
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	result, err := h.service.PlaceBid(c.Request.Context(), bidding.PlaceBidRequest{
		AuctionID:    auctionID,
		UserID:       req.UserID,
		Amount:       req.Amount,
		ProxyCeiling: req.ProxyCeiling,
	})
	if err != nil {
		helpers.RespondServiceError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    req.UserID,
			"amount":     req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResultResponse(result), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     result.Bid.BidID,
		"auction_id": auctionID,
		"user_id":    req.UserID,
		"amount":     result.Bid.Amount.StringFixed(2),
		"leader_id":  result.LeaderID,
	})
}

// BuyNowHandler handles POST /auctions/:auction_id/buy-now
func (h *BiddingHandler) BuyNowHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.BuyNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "BuyNowHandler", err)
		return
	}

	result, err := h.service.BuyNow(c.Request.Context(), auctionID, req.UserID)
	if err != nil {
		helpers.RespondServiceError(c, "BuyNowHandler", err, map[string]any{"auction_id": auctionID, "user_id": req.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBuyNowResponse(result), "auction bought successfully")
	helpers.LogSuccess("BuyNowHandler", "auction bought successfully", map[string]any{
		"auction_id": auctionID,
		"user_id":    req.UserID,
		"total":      result.TotalWithFees.StringFixed(2),
	})
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		helpers.RespondServiceError(c, "GetBidsByAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.RespondServiceError(c, "GetWinningBidHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"user_id":    bid.UserID,
		"amount":     bid.Amount.StringFixed(2),
	})
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondServiceError(c, "GetAuctionsByUserHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}

// GetBidsByUserHandler handles GET /users/:user_id/bids
func (h *BiddingHandler) GetBidsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	bids, err := h.service.GetBidsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondServiceError(c, "GetBidsByUserHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewUserBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByUserHandler", "bids retrieved successfully", map[string]any{
		"user_id":    userID,
		"bids_count": len(bids),
	})
}

// GetAuctionsBySellerHandler handles GET /sellers/:seller_id/auctions
func (h *BiddingHandler) GetAuctionsBySellerHandler(c *gin.Context) {
	sellerID := c.Param("seller_id")
	listings, err := h.service.GetAuctionsBySeller(c.Request.Context(), sellerID)
	if err != nil {
		helpers.RespondServiceError(c, "GetAuctionsBySellerHandler", err, map[string]any{"seller_id": sellerID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewSellerListingResponses(listings), "listings retrieved successfully")
	helpers.LogSuccess("GetAuctionsBySellerHandler", "listings retrieved successfully", map[string]any{
		"seller_id":      sellerID,
		"auctions_count": len(listings),
	})
}

// LiveAuctionHandler handles GET /auctions/:auction_id/live
func (h *BiddingHandler) LiveAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	if _, err := h.service.GetAuction(c.Request.Context(), auctionID); err != nil {
		helpers.RespondServiceError(c, "LiveAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	if h.feed == nil {
		utils.JSONError(c, http.StatusNotImplemented, errors.New("live feed disabled"), "live feed disabled")
		return
	}

	// the upgrader writes its own error response on failure
	if err := h.feed.Serve(c.Writer, c.Request, auctionID); err != nil {
		utils.Warn("LiveAuctionHandler: upgrade failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
	}
}
