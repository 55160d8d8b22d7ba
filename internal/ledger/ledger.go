// Package ledger stores invoices. Both implementations treat
// (auction_id, user_id) as the idempotency key, so retried or repeated
// CreateInvoice calls never produce a second invoice.
package ledger

import (
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvoiceNotFound is returned when no invoice exists for a key
var ErrInvoiceNotFound = errors.New("invoice not found")

type invoiceKey struct {
	auctionID string
	userID    string
}

// MemoryLedger keeps invoices in process memory
type MemoryLedger struct {
	mu       sync.RWMutex
	invoices map[invoiceKey]model.Invoice
}

// NewMemoryLedger returns an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{invoices: make(map[invoiceKey]model.Invoice)}
}

// CreateInvoice stores inv unless an invoice for the same auction and user exists
func (l *MemoryLedger) CreateInvoice(_ context.Context, inv model.Invoice) error {
	if inv.AuctionID == "" || inv.UserID == "" {
		return fmt.Errorf("create invoice: missing auction or user ID")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := invoiceKey{auctionID: inv.AuctionID, userID: inv.UserID}
	if _, exists := l.invoices[key]; exists {
		return nil
	}
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = model.PaymentPending
	}
	l.invoices[key] = inv
	return nil
}

// GetInvoice returns the invoice for an auction and user
func (l *MemoryLedger) GetInvoice(_ context.Context, auctionID, userID string) (model.Invoice, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	inv, ok := l.invoices[invoiceKey{auctionID: auctionID, userID: userID}]
	if !ok {
		return model.Invoice{}, fmt.Errorf("get invoice for auction %s user %s: %w", auctionID, userID, ErrInvoiceNotFound)
	}
	return inv, nil
}

// ListInvoices returns every invoice ordered by creation time
func (l *MemoryLedger) ListInvoices(_ context.Context) ([]model.Invoice, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Invoice, 0, len(l.invoices))
	for _, inv := range l.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AuctionID < out[j].AuctionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
