package helpers

import (
	"time"

	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Request DTOs. Amounts accept JSON numbers or decimal strings.
type PlaceBidRequest struct {
	UserID       string           `json:"user_id" binding:"required"`
	Amount       decimal.Decimal  `json:"amount"`
	ProxyCeiling *decimal.Decimal `json:"proxy_ceiling,omitempty"`
}

type BuyNowRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type CreateAuctionRequest struct {
	SellerID      string           `json:"seller_id" binding:"required"`
	Title         string           `json:"title" binding:"required"`
	Description   string           `json:"description"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	Increment     decimal.Decimal  `json:"increment"`
	RealPrice     *decimal.Decimal `json:"real_price,omitempty"`
	EndTime       time.Time        `json:"end_time"`
}

// Response DTOs. Money is rendered with two decimals, times as RFC3339 UTC.
type BidResponse struct {
	BidID        string  `json:"bid_id"`
	AuctionID    string  `json:"auction_id"`
	UserID       string  `json:"user_id"`
	Amount       string  `json:"amount"`
	IsProxy      bool    `json:"is_proxy"`
	ProxyCeiling *string `json:"proxy_ceiling,omitempty"`
	IsBuyNow     bool    `json:"is_buy_now"`
	CreatedAt    string  `json:"created_at"`
}

type AuctionResponse struct {
	AuctionID     string  `json:"auction_id"`
	SellerID      string  `json:"seller_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	StartingPrice string  `json:"starting_price"`
	Increment     string  `json:"increment"`
	CurrentPrice  string  `json:"current_price"`
	MinimumBid    string  `json:"minimum_bid"`
	RealPrice     *string `json:"real_price,omitempty"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	Status        string  `json:"status"`
	WinnerID      *string `json:"winner_id,omitempty"`
}

type BidResultResponse struct {
	Bid              BidResponse  `json:"bid"`
	CounterBid       *BidResponse `json:"counter_bid,omitempty"`
	CurrentPrice     string       `json:"current_price"`
	LeaderID         string       `json:"leader_id"`
	DeadlineExtended bool         `json:"deadline_extended"`
	EndTime          string       `json:"end_time"`
}

type BuyNowResponse struct {
	Bid           BidResponse `json:"bid"`
	PurchasePrice string      `json:"purchase_price"`
	BidFee        string      `json:"bid_fee"`
	DeliveryFee   string      `json:"delivery_fee"`
	TotalWithFees string      `json:"total_with_fees"`
}

type UserBidResponse struct {
	Bid           BidResponse `json:"bid"`
	AuctionTitle  string      `json:"auction_title"`
	AuctionStatus string      `json:"auction_status"`
	CurrentPrice  string      `json:"current_price"`
	WinnerID      *string     `json:"winner_id,omitempty"`
	IsWinning     bool        `json:"is_winning"`
	IsWinner      bool        `json:"is_winner"`
}

type SellerListingResponse struct {
	Auction     AuctionResponse `json:"auction"`
	BidderCount int             `json:"bidder_count"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func optionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:        b.BidID,
		AuctionID:    b.AuctionID,
		UserID:       b.UserID,
		Amount:       money(b.Amount),
		IsProxy:      b.IsProxy,
		ProxyCeiling: optionalMoney(b.ProxyCeiling),
		IsBuyNow:     b.IsBuyNow,
		CreatedAt:    timestamp(b.CreatedAt),
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

func NewAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:     a.AuctionID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		Description:   a.Description,
		StartingPrice: money(a.StartingPrice),
		Increment:     money(a.Increment),
		CurrentPrice:  money(a.CurrentPrice),
		MinimumBid:    money(a.MinimumBid()),
		RealPrice:     optionalMoney(a.RealPrice),
		StartTime:     timestamp(a.StartTime),
		EndTime:       timestamp(a.EndTime),
		Status:        string(a.Status),
		WinnerID:      a.WinnerID,
	}
}

func NewAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a))
	}
	return out
}

func NewBidResultResponse(r model.BidResult) BidResultResponse {
	resp := BidResultResponse{
		Bid:              NewBidResponse(r.Bid),
		CurrentPrice:     money(r.NewCurrentPrice),
		LeaderID:         r.LeaderID,
		DeadlineExtended: r.DeadlineExtended,
		EndTime:          timestamp(r.NewEndTime),
	}
	if r.CounterBid != nil {
		counter := NewBidResponse(*r.CounterBid)
		resp.CounterBid = &counter
	}
	return resp
}

func NewBuyNowResponse(r model.BuyNowResult) BuyNowResponse {
	return BuyNowResponse{
		Bid:           NewBidResponse(r.Bid),
		PurchasePrice: money(r.PurchasePrice),
		BidFee:        money(r.BidFee),
		DeliveryFee:   money(r.DeliveryFee),
		TotalWithFees: money(r.TotalWithFees),
	}
}

func NewUserBidResponses(bids []model.UserBid) []UserBidResponse {
	out := make([]UserBidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, UserBidResponse{
			Bid:           NewBidResponse(b.Bid),
			AuctionTitle:  b.AuctionTitle,
			AuctionStatus: string(b.AuctionStatus),
			CurrentPrice:  money(b.CurrentPrice),
			WinnerID:      b.WinnerID,
			IsWinning:     b.IsWinning,
			IsWinner:      b.IsWinner,
		})
	}
	return out
}

func NewSellerListingResponses(listings []model.SellerListing) []SellerListingResponse {
	out := make([]SellerListingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, SellerListingResponse{Auction: NewAuctionResponse(l.Auction), BidderCount: l.BidderCount})
	}
	return out
}
