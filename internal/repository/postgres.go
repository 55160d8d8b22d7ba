package repository

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/database"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const auctionColumns = `auction_id, seller_id, title, description, starting_price, increment,
	current_price, real_price, start_time, end_time, status, winner_id, created_at, updated_at`

const bidColumns = `seq, bid_id, auction_id, user_id, amount, is_proxy, proxy_ceiling, is_buy_now, created_at`

// PostgresRepo implements AuctionDB on Postgres. The per-auction lock is a
// row lock taken with SELECT ... FOR UPDATE inside a transaction.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo returns a repository bound to pool
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a         model.Auction
		realPrice decimal.NullDecimal
		status    string
	)
	err := row.Scan(
		&a.AuctionID, &a.SellerID, &a.Title, &a.Description,
		&a.StartingPrice, &a.Increment, &a.CurrentPrice, &realPrice,
		&a.StartTime, &a.EndTime, &status, &a.WinnerID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Auction{}, err
	}
	a.Status = model.AuctionStatus(status)
	if !a.Status.Valid() {
		return model.Auction{}, fmt.Errorf("scan auction %s: unknown status %q", a.AuctionID, status)
	}
	if realPrice.Valid {
		p := realPrice.Decimal
		a.RealPrice = &p
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanBid(row rowScanner) (model.Bid, error) {
	var (
		b       model.Bid
		ceiling decimal.NullDecimal
	)
	err := row.Scan(&b.Seq, &b.BidID, &b.AuctionID, &b.UserID, &b.Amount, &b.IsProxy, &ceiling, &b.IsBuyNow, &b.CreatedAt)
	if err != nil {
		return model.Bid{}, err
	}
	if ceiling.Valid {
		c := ceiling.Decimal
		b.ProxyCeiling = &c
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func collectAuctions(rows pgx.Rows) ([]model.Auction, error) {
	defer rows.Close()
	out := make([]model.Auction, 0)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auctions: %w", err)
	}
	return out, nil
}

func collectBids(rows pgx.Rows) ([]model.Bid, error) {
	defer rows.Close()
	out := make([]model.Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return out, nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// CreateAuction inserts a new auction
func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) (model.Auction, error) {
	query := `INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + auctionColumns
	row := r.pool.QueryRow(ctx, query,
		a.AuctionID, a.SellerID, a.Title, a.Description,
		a.StartingPrice, a.Increment, a.CurrentPrice, nullable(a.RealPrice),
		a.StartTime, a.EndTime, string(a.Status), a.WinnerID,
		a.CreatedAt, a.UpdatedAt,
	)
	created, err := scanAuction(row)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return model.Auction{}, fmt.Errorf("create auction %s: %w - duplicate ID", a.AuctionID, biddingerrors.ErrInvalidAuction)
		}
		return model.Auction{}, fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return created, nil
}

// GetAuction returns a single auction
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1`, auctionID)
	a, err := scanAuction(row)
	if err != nil {
		if database.IsNotFound(err) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions with the given status; an empty status lists all
func (r *PostgresRepo) ListAuctions(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE ($1 = '' OR status = $1)
		ORDER BY end_time ASC, auction_id ASC`
	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return collectAuctions(rows)
}

// ListExpiredAuctionIDs returns active auctions whose end time is not after now
func (r *PostgresRepo) ListExpiredAuctionIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT auction_id FROM auctions WHERE status = 'active' AND end_time <= $1 ORDER BY end_time ASC, auction_id ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepo) ensureAuction(ctx context.Context, auctionID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE auction_id = $1)`, auctionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return biddingerrors.ErrAuctionNotFound
	}
	return nil
}

// GetBidsByAuction returns all bids for an auction in insertion order
func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := r.ensureAuction(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid for an auction
func (r *PostgresRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if err := r.ensureAuction(ctx, auctionID); err != nil {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, err)
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, seq DESC LIMIT 1`, auctionID)
	b, err := scanBid(row)
	if err != nil {
		if database.IsNotFound(err) {
			return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *PostgresRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE auction_id IN (SELECT auction_id FROM bids WHERE user_id = $1)
		ORDER BY end_time ASC, auction_id ASC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	auctions, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// GetBidsByUser returns every bid a user has placed, newest first
func (r *PostgresRepo) GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE user_id = $1 ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, err)
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return bids, nil
}

// GetAuctionsBySeller returns a seller's listings ordered by end time
func (r *PostgresRepo) GetAuctionsBySeller(ctx context.Context, sellerID string) ([]model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE seller_id = $1 ORDER BY end_time ASC, auction_id ASC`
	rows, err := r.pool.Query(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for seller %s: %w", sellerID, err)
	}
	auctions, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("get auctions for seller %s: %w", sellerID, err)
	}
	return auctions, nil
}

// WithAuctionLock runs fn in a transaction holding the auction row lock
func (r *PostgresRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return lockError(auctionID, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	row := tx.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1 FOR UPDATE`, auctionID)
	auction, err := scanAuction(row)
	if err != nil {
		if database.IsNotFound(err) {
			return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return lockError(auctionID, err)
	}

	if err := fn(&pgAuctionTx{tx: tx, auction: auction}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return lockError(auctionID, err)
	}
	return nil
}

func lockError(auctionID string, err error) error {
	if database.IsLockConflict(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("lock auction %s: %w: %v", auctionID, biddingerrors.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("lock auction %s: %w", auctionID, err)
}

// GetUser returns a registered user
func (r *PostgresRepo) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `SELECT user_id, username, delivery_zone FROM users WHERE user_id = $1`, userID).
		Scan(&u.UserID, &u.Username, &u.DeliveryZone)
	if err != nil {
		if database.IsNotFound(err) {
			return model.User{}, fmt.Errorf("get user %s: %w", userID, biddingerrors.ErrUserNotFound)
		}
		return model.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return u, nil
}

// UpsertUser registers or updates a user
func (r *PostgresRepo) UpsertUser(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (user_id, username, delivery_zone) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, delivery_zone = EXCLUDED.delivery_zone`,
		u.UserID, u.Username, u.DeliveryZone)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	return nil
}

type pgAuctionTx struct {
	tx      pgx.Tx
	auction model.Auction
}

func (t *pgAuctionTx) Auction() model.Auction { return t.auction }

func (t *pgAuctionTx) Bids(ctx context.Context) ([]model.Bid, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`, t.auction.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids for auction %s: %w", t.auction.AuctionID, err)
	}
	return collectBids(rows)
}

func (t *pgAuctionTx) AppendBid(ctx context.Context, bid model.Bid) (model.Bid, error) {
	if bid.AuctionID != t.auction.AuctionID {
		return model.Bid{}, fmt.Errorf("append bid to auction %s: %w - bid belongs to %q", t.auction.AuctionID, biddingerrors.ErrInvalidBid, bid.AuctionID)
	}
	query := `INSERT INTO bids (bid_id, auction_id, user_id, amount, is_proxy, proxy_ceiling, is_buy_now, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + bidColumns
	row := t.tx.QueryRow(ctx, query,
		bid.BidID, bid.AuctionID, bid.UserID, bid.Amount, bid.IsProxy, nullable(bid.ProxyCeiling), bid.IsBuyNow, bid.CreatedAt)
	stored, err := scanBid(row)
	if err != nil {
		return model.Bid{}, fmt.Errorf("append bid to auction %s: %w", t.auction.AuctionID, err)
	}
	return stored, nil
}

func (t *pgAuctionTx) SaveAuction(ctx context.Context, a model.Auction) error {
	if a.AuctionID != t.auction.AuctionID {
		return errors.New("save auction: auction ID does not match the locked auction")
	}
	_, err := t.tx.Exec(ctx, `UPDATE auctions
		SET current_price = $2, end_time = $3, status = $4, winner_id = $5, updated_at = $6
		WHERE auction_id = $1`,
		a.AuctionID, a.CurrentPrice, a.EndTime, string(a.Status), a.WinnerID, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save auction %s: %w", a.AuctionID, err)
	}
	t.auction = a
	return nil
}
