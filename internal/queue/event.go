// Package queue defines the messages exchanged over RabbitMQ and the
// publisher/consumer that move them.
package queue

import (
	model "auction-engine/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// Queue names. Both are durable.
const (
	NotificationQueue = "auction.notifications"
	InvoiceQueue      = "auction.invoices"
)

// NotificationEvent is published for every outbid or won alert.
// EventID is stable across retries so consumers can de-duplicate.
type NotificationEvent struct {
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id"`
	Kind        string            `json:"kind"`
	AuctionID   string            `json:"auction_id"`
	Context     map[string]string `json:"context,omitempty"`
	PublishedAt string            `json:"published_at"`
}

// InvoiceCommand asks the billing side to create an invoice.
// Consumers must treat (auction_id, user_id) as the idempotency key.
type InvoiceCommand struct {
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

func notificationEvent(n model.Notification, now time.Time) NotificationEvent {
	return NotificationEvent{
		EventID:     n.EventID,
		UserID:      n.UserID,
		Kind:        string(n.Kind),
		AuctionID:   n.AuctionID,
		Context:     n.Context,
		PublishedAt: now.UTC().Format(time.RFC3339),
	}
}

func invoiceCommand(inv model.Invoice) InvoiceCommand {
	return InvoiceCommand{
		InvoiceID:     inv.InvoiceID,
		AuctionID:     inv.AuctionID,
		UserID:        inv.UserID,
		ItemPrice:     inv.ItemPrice,
		BidFee:        inv.BidFee,
		DeliveryFee:   inv.DeliveryFee,
		TotalAmount:   inv.TotalAmount,
		PaymentStatus: inv.PaymentStatus,
		CreatedAt:     inv.CreatedAt,
	}
}

// Invoice converts the command back to the domain record
func (c InvoiceCommand) Invoice() model.Invoice {
	return model.Invoice{
		InvoiceID:     c.InvoiceID,
		AuctionID:     c.AuctionID,
		UserID:        c.UserID,
		ItemPrice:     c.ItemPrice,
		BidFee:        c.BidFee,
		DeliveryFee:   c.DeliveryFee,
		TotalAmount:   c.TotalAmount,
		PaymentStatus: c.PaymentStatus,
		CreatedAt:     c.CreatedAt,
	}
}
