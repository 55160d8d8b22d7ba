package bidding

import (
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"context"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=collaborators.go -destination=mock_collaborators.go -package=bidding

// Notifier delivers outbid and won alerts. Implementations must tolerate
// repeated EventIDs.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// InvoiceLedger records what a winner owes; idempotent per (auction, user)
type InvoiceLedger interface {
	CreateInvoice(ctx context.Context, inv model.Invoice) error
}

// DeliveryFeeCalculator prices delivery of an auction's item to a user
type DeliveryFeeCalculator interface {
	DeliveryFee(ctx context.Context, userID string, auction model.Auction) (decimal.Decimal, error)
}

// EventPublisher pushes committed auction changes to live watchers
type EventPublisher interface {
	Publish(event model.AuctionEvent)
}

// Dispatcher runs side effects after commit with at-least-once delivery
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, job func(ctx context.Context) error)
}

// inlineDispatcher makes a single attempt and logs failures
type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(ctx context.Context, name string, job func(ctx context.Context) error) {
	if err := job(ctx); err != nil {
		utils.Error("side effect failed", map[string]any{"job": name, "error": err.Error()})
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.Notification) error { return nil }

type nopLedger struct{}

func (nopLedger) CreateInvoice(context.Context, model.Invoice) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(model.AuctionEvent) {}

// flatFee charges the same delivery fee to everyone
type flatFee decimal.Decimal

func (f flatFee) DeliveryFee(context.Context, string, model.Auction) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}
