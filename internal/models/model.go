package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s
func (s AuctionStatus) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusCancelled:
		return true
	case StatusActive:
		return false
	}
	return true
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Active is the only state with outgoing edges.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case StatusActive:
		switch next {
		case StatusEnded, StatusCancelled:
			return true
		case StatusActive:
			return false
		}
		return false
	case StatusEnded, StatusCancelled:
		return false
	}
	return false
}

// User represents a participant in the auction
type User struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	DeliveryZone string `json:"delivery_zone"`
}

// Auction represents a listing and its bidding state
type Auction struct {
	AuctionID     string           `json:"auction_id"`
	SellerID      string           `json:"seller_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	Increment     decimal.Decimal  `json:"increment"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	RealPrice     *decimal.Decimal `json:"real_price,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Status        AuctionStatus    `json:"status"`
	WinnerID      *string          `json:"winner_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MinimumBid returns the lowest amount a direct bid must reach
func (a Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.Increment)
}

// IsCents reports whether d has no precision below one cent
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Bid represents a user's bid on an auction
type Bid struct {
	BidID        string           `json:"bid_id"`
	Seq          int64            `json:"seq"`
	AuctionID    string           `json:"auction_id"`
	UserID       string           `json:"user_id"`
	Amount       decimal.Decimal  `json:"amount"`
	IsProxy      bool             `json:"is_proxy"`
	ProxyCeiling *decimal.Decimal `json:"proxy_ceiling,omitempty"`
	IsBuyNow     bool             `json:"is_buy_now"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Invoice is the amount owed by the winner of an auction
type Invoice struct {
	InvoiceID     string          `json:"invoice_id"`
	AuctionID     string          `json:"auction_id"`
	UserID        string          `json:"user_id"`
	ItemPrice     decimal.Decimal `json:"item_price"`
	BidFee        decimal.Decimal `json:"bid_fee"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentPending is the status of a freshly created invoice
const PaymentPending = "pending"

// NotificationKind enumerates the alerts the engine emits
type NotificationKind string

const (
	NotificationOutbid NotificationKind = "outbid"
	NotificationWon    NotificationKind = "won"
)

// Notification is delivered at least once; EventID is stable across retries
type Notification struct {
	EventID   string            `json:"event_id"`
	UserID    string            `json:"user_id"`
	Kind      NotificationKind  `json:"kind"`
	AuctionID string            `json:"auction_id"`
	Context   map[string]string `json:"context,omitempty"`
}

// BidResult is returned by a successful PlaceBid
type BidResult struct {
	Bid              Bid             `json:"bid"`
	CounterBid       *Bid            `json:"counter_bid,omitempty"`
	NewCurrentPrice  decimal.Decimal `json:"new_current_price"`
	LeaderID         string          `json:"leader_id"`
	DeadlineExtended bool            `json:"deadline_extended"`
	NewEndTime       time.Time       `json:"new_end_time"`
}

// BuyNowResult is returned by a successful BuyNow
type BuyNowResult struct {
	Bid           Bid             `json:"bid"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	BidFee        decimal.Decimal `json:"bid_fee"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	TotalWithFees decimal.Decimal `json:"total_with_fees"`
}

// AuctionEventType names the updates pushed to live watchers
type AuctionEventType string

const (
	EventBidPlaced AuctionEventType = "bid_placed"
	EventExtended  AuctionEventType = "deadline_extended"
	EventEnded     AuctionEventType = "auction_ended"
	EventCancelled AuctionEventType = "auction_cancelled"
)

// AuctionEvent is the payload of the live auction feed
type AuctionEvent struct {
	Type         AuctionEventType `json:"type"`
	AuctionID    string           `json:"auction_id"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	LeaderID     string           `json:"leader_id,omitempty"`
	EndTime      time.Time        `json:"end_time"`
	Status       AuctionStatus    `json:"status"`
}

// UserBid is one entry of a bidder's history together with the state of its
// auction. IsWinning marks the leading bid of an Active auction; IsWinner is
// set on every bid of the winner once the auction has Ended.
type UserBid struct {
	Bid           Bid             `json:"bid"`
	AuctionTitle  string          `json:"auction_title"`
	AuctionStatus AuctionStatus   `json:"auction_status"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	WinnerID      *string         `json:"winner_id,omitempty"`
	IsWinning     bool            `json:"is_winning"`
	IsWinner      bool            `json:"is_winner"`
}

// SellerListing is a seller's auction with the number of distinct bidders
type SellerListing struct {
	Auction     Auction `json:"auction"`
	BidderCount int     `json:"bidder_count"`
}
