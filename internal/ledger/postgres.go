package ledger

import (
	"auction-engine/internal/database"
	model "auction-engine/internal/models"
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const invoiceColumns = `invoice_id, auction_id, user_id, item_price, bid_fee, delivery_fee, total_amount, payment_status, created_at`

// PostgresLedger writes invoices to the invoices table
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger returns a ledger bound to pool
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// CreateInvoice inserts inv; a second insert for the same auction and user is a no-op
func (l *PostgresLedger) CreateInvoice(ctx context.Context, inv model.Invoice) error {
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = model.PaymentPending
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (auction_id, user_id) DO NOTHING`,
		inv.InvoiceID, inv.AuctionID, inv.UserID, inv.ItemPrice, inv.BidFee,
		inv.DeliveryFee, inv.TotalAmount, inv.PaymentStatus, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create invoice for auction %s: %w", inv.AuctionID, err)
	}
	return nil
}

// GetInvoice returns the invoice for an auction and user
func (l *PostgresLedger) GetInvoice(ctx context.Context, auctionID, userID string) (model.Invoice, error) {
	var inv model.Invoice
	err := l.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE auction_id = $1 AND user_id = $2`, auctionID, userID).
		Scan(&inv.InvoiceID, &inv.AuctionID, &inv.UserID, &inv.ItemPrice, &inv.BidFee,
			&inv.DeliveryFee, &inv.TotalAmount, &inv.PaymentStatus, &inv.CreatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return model.Invoice{}, fmt.Errorf("get invoice for auction %s user %s: %w", auctionID, userID, ErrInvoiceNotFound)
		}
		return model.Invoice{}, fmt.Errorf("get invoice for auction %s user %s: %w", auctionID, userID, err)
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, nil
}

// CountInvoices returns how many invoices exist for an auction
func (l *PostgresLedger) CountInvoices(ctx context.Context, auctionID string) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, `SELECT count(*) FROM invoices WHERE auction_id = $1`, auctionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invoices for auction %s: %w", auctionID, err)
	}
	return n, nil
}
