package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction store and bid ledger used by the engine
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error)
	ListExpiredAuctionIDs(ctx context.Context, now time.Time) ([]string, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)
	GetAuctionsBySeller(ctx context.Context, sellerID string) ([]model.Auction, error)

	// WithAuctionLock runs fn while holding the exclusive lock of one auction.
	// Writes made through the AuctionTx are committed only if fn returns nil.
	WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error
}

// AuctionTx is the view of a locked auction inside WithAuctionLock
type AuctionTx interface {
	// Auction is the row as read when the lock was taken
	Auction() model.Auction
	Bids(ctx context.Context) ([]model.Bid, error)
	AppendBid(ctx context.Context, bid model.Bid) (model.Bid, error)
	SaveAuction(ctx context.Context, auction model.Auction) error
}

// UserStore reads bidder and seller identity
type UserStore interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu           sync.RWMutex
	auctions     map[string]model.Auction // key: auctionID -> value: auction
	bids         map[string][]model.Bid   // key: auctionID -> value: bids in seq order
	userAuctions map[string][]string      // key: userID -> value: auctionIDs user has bid on
	users        map[string]model.User

	locks *keyedLock
	seq   atomic.Int64
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		userAuctions: make(map[string][]string),
		users:        make(map[string]model.User),
		locks:        newKeyedLock(),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) (model.Auction, error) {
	if auction.AuctionID == "" {
		return model.Auction{}, fmt.Errorf("create auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.AuctionID]; exists {
		return model.Auction{}, fmt.Errorf("create auction %s: %w - duplicate ID", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.AuctionID] = auction
	return auction, nil
}

// GetAuction returns a single auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// ListAuctions returns auctions with the given status ordered by end time; an empty status lists all
func (r *MemoryRepo) ListAuctions(_ context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sortByEndTime(out)
	return out, nil
}

// ListExpiredAuctionIDs returns active auctions whose end time is not after now
func (r *MemoryRepo) ListExpiredAuctionIDs(_ context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expired := make([]model.Auction, 0)
	for _, a := range r.auctions {
		if a.Status == model.StatusActive && !now.Before(a.EndTime) {
			expired = append(expired, a)
		}
	}
	sortByEndTime(expired)

	ids := make([]string, len(expired))
	for i, a := range expired {
		ids[i] = a.AuctionID
	}
	return ids, nil
}

// GetBidsByAuction returns all bids for an auction in insertion order
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return append([]model.Bid(nil), bids...), nil
}

// GetWinningBid returns the highest bid for an auction
func (r *MemoryRepo) GetWinningBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	winning, ok := HighestBid(r.bids[auctionID])
	if !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return winning, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(_ context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.userAuctions[userID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if a, exists := r.auctions[id]; exists {
			auctions = append(auctions, a)
		}
	}
	return auctions, nil
}

// GetBidsByUser returns every bid a user has placed, newest first
func (r *MemoryRepo) GetBidsByUser(_ context.Context, userID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bids []model.Bid
	for _, auctionID := range r.userAuctions[userID] {
		for _, b := range r.bids[auctionID] {
			if b.UserID == userID {
				bids = append(bids, b)
			}
		}
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Seq > bids[j].Seq })
	return bids, nil
}

// GetAuctionsBySeller returns a seller's listings ordered by end time
func (r *MemoryRepo) GetAuctionsBySeller(_ context.Context, sellerID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0)
	for _, a := range r.auctions {
		if a.SellerID == sellerID {
			out = append(out, a)
		}
	}
	sortByEndTime(out)
	return out, nil
}

// WithAuctionLock serializes fn against every other locked operation on the same auction
func (r *MemoryRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	unlock, err := r.locks.Lock(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lock auction %s: %w: %v", auctionID, biddingerrors.ErrConcurrencyConflict, err)
	}
	defer unlock()

	r.mu.RLock()
	auction, ok := r.auctions[auctionID]
	committed := append([]model.Bid(nil), r.bids[auctionID]...)
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	tx := &memoryTx{repo: r, auction: auction, committed: committed}
	if err := fn(tx); err != nil {
		return err
	}
	r.commit(tx)
	return nil
}

func (r *MemoryRepo) commit(tx *memoryTx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := tx.auction.AuctionID
	if tx.dirty {
		r.auctions[id] = tx.auction
	}
	for _, bid := range tx.pending {
		r.bids[id] = append(r.bids[id], bid)
		r.indexUserAuction(bid.UserID, id)
	}
}

func (r *MemoryRepo) indexUserAuction(userID, auctionID string) {
	for _, existing := range r.userAuctions[userID] {
		if existing == auctionID {
			return
		}
	}
	r.userAuctions[userID] = append(r.userAuctions[userID], auctionID)
}

// GetUser returns a registered user
func (r *MemoryRepo) GetUser(_ context.Context, userID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return u, nil
}

// AddUser registers a user. This method is intended for seeding and tests.
func (r *MemoryRepo) AddUser(user model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
}

// AddAuction stores an auction without validation. This method is intended for seeding and tests.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction
}

// memoryTx buffers writes until WithAuctionLock commits them
type memoryTx struct {
	repo      *MemoryRepo
	auction   model.Auction
	committed []model.Bid
	pending   []model.Bid
	dirty     bool
}

func (tx *memoryTx) Auction() model.Auction { return tx.auction }

func (tx *memoryTx) Bids(_ context.Context) ([]model.Bid, error) {
	out := make([]model.Bid, 0, len(tx.committed)+len(tx.pending))
	out = append(out, tx.committed...)
	return append(out, tx.pending...), nil
}

func (tx *memoryTx) AppendBid(_ context.Context, bid model.Bid) (model.Bid, error) {
	if bid.AuctionID != tx.auction.AuctionID {
		return model.Bid{}, fmt.Errorf("append bid to auction %s: %w - bid belongs to %q", tx.auction.AuctionID, biddingerrors.ErrInvalidBid, bid.AuctionID)
	}
	bid.Seq = tx.repo.seq.Add(1)
	tx.pending = append(tx.pending, bid)
	return bid, nil
}

func (tx *memoryTx) SaveAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID != tx.auction.AuctionID {
		return errors.New("save auction: auction ID does not match the locked auction")
	}
	tx.auction = auction
	tx.dirty = true
	return nil
}

// HighestBid picks the maximum amount; on equal amounts the later bid wins
func HighestBid(bids []model.Bid) (model.Bid, bool) {
	if len(bids) == 0 {
		return model.Bid{}, false
	}
	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winning.Amount) || (b.Amount.Equal(winning.Amount) && b.Seq > winning.Seq) {
			winning = b
		}
	}
	return winning, true
}

func sortByEndTime(auctions []model.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].EndTime.Equal(auctions[j].EndTime) {
			return auctions[i].AuctionID < auctions[j].AuctionID
		}
		return auctions[i].EndTime.Before(auctions[j].EndTime)
	})
}
