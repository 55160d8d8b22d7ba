package bidding

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	"auction-engine/internal/dispatch"
	"auction-engine/internal/ledger"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// recordingNotifier keeps every notification it receives
type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	fail error
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) recipients(kind model.NotificationKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n.UserID)
		}
	}
	sort.Strings(out)
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// countingLedger counts CreateInvoice calls in front of a memory ledger
type countingLedger struct {
	*ledger.MemoryLedger
	calls    atomic.Int32
	failures atomic.Int32 // number of leading calls to fail
}

func (c *countingLedger) CreateInvoice(ctx context.Context, inv model.Invoice) error {
	n := c.calls.Add(1)
	if n <= c.failures.Load() {
		return errors.New("ledger unavailable")
	}
	return c.MemoryLedger.CreateInvoice(ctx, inv)
}

// recordingEvents keeps published live events
type recordingEvents struct {
	mu     sync.Mutex
	events []model.AuctionEvent
}

func (r *recordingEvents) Publish(e model.AuctionEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) types() []model.AuctionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuctionEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	svc      *BiddingService
	repo     *repository.MemoryRepo
	clock    *clock.Fake
	notifier *recordingNotifier
	ledger   *countingLedger
	events   *recordingEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     repository.NewMemoryRepo(),
		clock:    clock.NewFake(t0),
		notifier: &recordingNotifier{},
		ledger:   &countingLedger{MemoryLedger: ledger.NewMemoryLedger()},
		events:   &recordingEvents{},
	}
	h.svc = NewBiddingService(h.repo, DefaultSettings(), Collaborators{
		Notifier: h.notifier,
		Invoices: h.ledger,
		Fees:     flatFee(d("5.00")),
		Events:   h.events,
		Clock:    h.clock,
	})
	return h
}

// auction seeds an active auction owned by "seller"
func (h *harness) auction(id, start, increment string, endIn time.Duration) model.Auction {
	a := model.Auction{
		AuctionID:     id,
		SellerID:      "seller",
		Title:         id,
		StartingPrice: d(start),
		Increment:     d(increment),
		CurrentPrice:  d(start),
		StartTime:     t0.Add(-time.Hour),
		EndTime:       t0.Add(endIn),
		Status:        model.StatusActive,
		CreatedAt:     t0.Add(-time.Hour),
		UpdatedAt:     t0.Add(-time.Hour),
	}
	h.repo.AddAuction(a)
	return a
}

func (h *harness) bid(t *testing.T, auctionID, userID, amount string, ceiling *decimal.Decimal) model.BidResult {
	t.Helper()
	res, err := h.svc.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: auctionID, UserID: userID, Amount: d(amount), ProxyCeiling: ceiling})
	require.NoError(t, err)
	return res
}

func TestEngine_EndToEndScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)

	res := h.bid(t, "a1", "X", "110", nil)
	require.True(t, res.NewCurrentPrice.Equal(d("110")))
	require.Equal(t, "X", res.LeaderID)
	require.Nil(t, res.CounterBid)

	res = h.bid(t, "a1", "Y", "120", dp("200"))
	require.True(t, res.NewCurrentPrice.Equal(d("120")))
	require.Equal(t, "Y", res.LeaderID)
	require.Nil(t, res.CounterBid)
	require.Equal(t, []string{"X"}, h.notifier.recipients(model.NotificationOutbid))

	h.notifier.reset()
	res = h.bid(t, "a1", "X", "150", nil)
	require.NotNil(t, res.CounterBid)
	require.Equal(t, "Y", res.CounterBid.UserID)
	require.True(t, res.CounterBid.Amount.Equal(d("160")))
	require.True(t, res.CounterBid.ProxyCeiling.Equal(d("200")))
	require.True(t, res.NewCurrentPrice.Equal(d("160")))
	require.Equal(t, "Y", res.LeaderID)
	require.False(t, res.DeadlineExtended)
	// the proxy owner stays in the lead, only the initiating bidder is outbid
	require.Equal(t, []string{"X"}, h.notifier.recipients(model.NotificationOutbid))

	h.clock.Set(t0.Add(time.Hour))
	ended, err := h.svc.ReconcileIfExpired(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, ended.Status)
	require.NotNil(t, ended.WinnerID)
	require.Equal(t, "Y", *ended.WinnerID)
	require.True(t, ended.CurrentPrice.Equal(d("160")))

	_, err = h.svc.ReconcileIfExpired(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, int32(1), h.ledger.calls.Load())

	inv, err := h.ledger.GetInvoice(context.Background(), "a1", "Y")
	require.NoError(t, err)
	require.True(t, inv.ItemPrice.Equal(d("160")))
	require.True(t, inv.BidFee.Equal(d("1.60")))
	require.True(t, inv.DeliveryFee.Equal(d("5.00")))
	require.True(t, inv.TotalAmount.Equal(d("166.60")))
	require.Equal(t, model.PaymentPending, inv.PaymentStatus)
	require.Equal(t, []string{"Y"}, h.notifier.recipients(model.NotificationWon))

	_, err = h.svc.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: "a1", UserID: "X", Amount: d("500")})
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotActive)
}

func TestEngine_ProxyDeterminism(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "80", "10", time.Hour)

	h.bid(t, "a1", "B", "90", dp("150"))

	res := h.bid(t, "a1", "A", "100", nil)
	require.NotNil(t, res.CounterBid)
	require.Equal(t, "B", res.CounterBid.UserID)
	require.True(t, res.CounterBid.IsProxy)
	require.True(t, res.NewCurrentPrice.Equal(d("110")))

	res = h.bid(t, "a1", "A", "200", nil)
	require.Nil(t, res.CounterBid)
	require.True(t, res.NewCurrentPrice.Equal(d("200")))
	require.Equal(t, "A", res.LeaderID)
}

func TestEngine_ProxyQualification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)

	h.bid(t, "a1", "B", "110", dp("130"))
	// 120 + 10 reaches the ceiling exactly
	res := h.bid(t, "a1", "A", "120", nil)
	require.NotNil(t, res.CounterBid)
	require.True(t, res.CounterBid.Amount.Equal(d("130")))

	// 140 + 10 is beyond the ceiling, no counter
	res = h.bid(t, "a1", "A", "140", nil)
	require.Nil(t, res.CounterBid)
	require.Equal(t, "A", res.LeaderID)
}

func TestEngine_ProxyTieGoesToEarliestRegistration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "80", "10", time.Hour)

	h.bid(t, "a1", "B", "90", dp("150"))
	// C registers the same ceiling later; B counters C
	res := h.bid(t, "a1", "C", "100", dp("150"))
	require.NotNil(t, res.CounterBid)
	require.Equal(t, "B", res.CounterBid.UserID)

	// both B and C qualify with equal ceilings: B registered first
	res = h.bid(t, "a1", "A", "120", nil)
	require.NotNil(t, res.CounterBid)
	require.Equal(t, "B", res.CounterBid.UserID)
	require.True(t, res.NewCurrentPrice.Equal(d("130")))
}

func TestEngine_AntiSnipe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		endIn        time.Duration
		wantExtended bool
		wantEnd      time.Time
	}{
		{name: "30s_left_resets_to_now_plus_extension", endIn: 30 * time.Second, wantExtended: true, wantEnd: t0.Add(120 * time.Second)},
		{name: "119s_left_extends", endIn: 119 * time.Second, wantExtended: true, wantEnd: t0.Add(120 * time.Second)},
		{name: "exactly_threshold_unchanged", endIn: 120 * time.Second, wantExtended: false, wantEnd: t0.Add(120 * time.Second)},
		{name: "10m_left_unchanged", endIn: 10 * time.Minute, wantExtended: false, wantEnd: t0.Add(10 * time.Minute)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.auction("a1", "100", "10", tc.endIn)

			res := h.bid(t, "a1", "A", "110", nil)
			require.Equal(t, tc.wantExtended, res.DeadlineExtended)
			require.True(t, tc.wantEnd.Equal(res.NewEndTime), "got %s", res.NewEndTime)

			got, err := h.repo.GetAuction(context.Background(), "a1")
			require.NoError(t, err)
			require.True(t, tc.wantEnd.Equal(got.EndTime))

			if tc.wantExtended {
				require.Contains(t, h.events.types(), model.EventExtended)
			}
		})
	}

	t.Run("repeated_late_bids_do_not_compound", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.auction("a1", "100", "10", 30*time.Second)

		h.bid(t, "a1", "A", "110", nil)
		h.clock.Advance(100 * time.Second)
		res := h.bid(t, "a1", "B", "120", nil)
		require.True(t, res.DeadlineExtended)
		require.True(t, t0.Add(220*time.Second).Equal(res.NewEndTime))
	})
}

func TestEngine_PlaceBidValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     PlaceBidRequest
		setup   func(h *harness)
		wantErr error
	}{
		{name: "missing_user", req: PlaceBidRequest{AuctionID: "a1", Amount: d("110")}, wantErr: biddingerrors.ErrInvalidBid},
		{name: "unknown_auction", req: PlaceBidRequest{AuctionID: "nope", UserID: "A", Amount: d("110")}, wantErr: biddingerrors.ErrAuctionNotFound},
		{name: "self_bid", req: PlaceBidRequest{AuctionID: "a1", UserID: "seller", Amount: d("1000")}, wantErr: biddingerrors.ErrSelfBid},
		{name: "self_bid_checked_before_amount", req: PlaceBidRequest{AuctionID: "a1", UserID: "seller", Amount: d("0")}, wantErr: biddingerrors.ErrSelfBid},
		{name: "zero_amount", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("0")}, wantErr: biddingerrors.ErrInvalidAmount},
		{name: "negative_amount", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("-5")}, wantErr: biddingerrors.ErrInvalidAmount},
		{name: "below_minimum", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("109.99")}, wantErr: biddingerrors.ErrBidTooLow},
		{name: "ceiling_below_amount", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("120"), ProxyCeiling: dp("115")}, wantErr: biddingerrors.ErrInvalidProxyCeiling},
		{name: "fractional_cent_amount", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("110.001")}, wantErr: biddingerrors.ErrInvalidAmount},
		{name: "fractional_cent_ceiling", req: PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("110"), ProxyCeiling: dp("150.005")}, wantErr: biddingerrors.ErrInvalidProxyCeiling},
		{
			name:    "cancelled_auction",
			req:     PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("110")},
			setup:   func(h *harness) { _, _ = h.svc.CancelAuction(context.Background(), "a1") },
			wantErr: biddingerrors.ErrAuctionNotActive,
		},
		{
			name:    "expired_auction",
			req:     PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("110")},
			setup:   func(h *harness) { h.clock.Advance(time.Hour) },
			wantErr: biddingerrors.ErrAuctionEnded,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.auction("a1", "100", "10", time.Hour)
			if tc.setup != nil {
				tc.setup(h)
			}

			_, err := h.svc.PlaceBid(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.wantErr)
			require.False(t, biddingerrors.IsRetryable(err))

			// a rejected bid leaves no trace
			_, err = h.repo.GetBidsByAuction(context.Background(), "a1")
			require.ErrorIs(t, err, biddingerrors.ErrNoBids)
			require.Empty(t, h.notifier.recipients(model.NotificationOutbid))
		})
	}
}

func TestEngine_BidTooLowCarriesMinimum(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)

	_, err := h.svc.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: "a1", UserID: "B", Amount: d("115")})
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	minimum, ok := biddingerrors.MinimumBid(err)
	require.True(t, ok)
	require.True(t, minimum.Equal(d("120")))
}

func TestEngine_BidTooLowMinimumIsAcceptable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// seeded directly so the sub-cent increment bypasses creation checks
	h.auction("a1", "100", "0.004", time.Hour)

	_, err := h.svc.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("100")})
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	minimum, ok := biddingerrors.MinimumBid(err)
	require.True(t, ok)
	require.True(t, minimum.Equal(d("100.01")), "got %s", minimum)

	res := h.bid(t, "a1", "A", minimum.String(), nil)
	require.True(t, res.Bid.Amount.Equal(d("100.01")))
}

func TestEngine_ExpiredBidEndsAuction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)

	h.clock.Set(t0.Add(time.Hour))
	_, err := h.svc.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: "a1", UserID: "B", Amount: d("500")})
	require.ErrorIs(t, err, biddingerrors.ErrAuctionEnded)

	got, err := h.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, got.Status)
	require.Equal(t, "A", *got.WinnerID)
	require.Equal(t, int32(1), h.ledger.calls.Load())

	bids, err := h.repo.GetBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, bids, 1)
}

func TestEngine_ConcurrentRace(t *testing.T) {
	t.Parallel()

	for run := 0; run < 20; run++ {
		h := newHarness(t)
		h.auction("a1", "100", "10", time.Hour)

		amounts := []string{"110", "120"}
		errs := make([]error, len(amounts))
		var wg sync.WaitGroup
		for i, amount := range amounts {
			wg.Add(1)
			i, amount := i, amount
			go func() {
				defer wg.Done()
				_, errs[i] = h.svc.PlaceBid(context.Background(), PlaceBidRequest{
					AuctionID: "a1", UserID: fmt.Sprintf("user-%d", i), Amount: d(amount),
				})
			}()
		}
		wg.Wait()

		bids, err := h.repo.GetBidsByAuction(context.Background(), "a1")
		require.NoError(t, err)
		got, err := h.repo.GetAuction(context.Background(), "a1")
		require.NoError(t, err)
		require.True(t, got.CurrentPrice.Equal(d("120")), "120 is accepted in either order")

		accepted := 0
		for _, e := range errs {
			if e == nil {
				accepted++
				continue
			}
			// the 110 bid lost the race and was re-validated against 120
			require.ErrorIs(t, e, biddingerrors.ErrBidTooLow)
			minimum, ok := biddingerrors.MinimumBid(e)
			require.True(t, ok)
			require.True(t, minimum.Equal(d("130")))
		}
		require.Len(t, bids, accepted)
		require.True(t, bids[len(bids)-1].Amount.Equal(got.CurrentPrice))
	}
}

func TestEngine_MonotonicUnderContention(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "1", time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			amount := decimal.NewFromInt(int64(101 + (i*7)%40))
			var ceiling *decimal.Decimal
			if i%5 == 0 {
				c := amount.Add(decimal.NewFromInt(15))
				ceiling = &c
			}
			_, _ = h.svc.PlaceBid(context.Background(), PlaceBidRequest{
				AuctionID: "a1", UserID: fmt.Sprintf("user-%d", i%6), Amount: amount, ProxyCeiling: ceiling,
			})
		}()
	}
	wg.Wait()

	bids, err := h.repo.GetBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	for i := 1; i < len(bids); i++ {
		require.True(t, bids[i].Amount.GreaterThanOrEqual(bids[i-1].Amount), "bid %d decreased the price", i)
		require.Greater(t, bids[i].Seq, bids[i-1].Seq)
	}
	got, err := h.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, got.CurrentPrice.Equal(bids[len(bids)-1].Amount))
}

func TestEngine_LockTimeoutIsRetryable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.repo.WithAuctionLock(context.Background(), "a1", func(tx repository.AuctionTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.svc.PlaceBid(ctx, PlaceBidRequest{AuctionID: "a1", UserID: "A", Amount: d("110")})
	require.ErrorIs(t, err, biddingerrors.ErrConcurrencyConflict)
	require.True(t, biddingerrors.IsRetryable(err))
}

func TestEngine_SinkFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.notifier.fail = errors.New("notification service down")

	h.bid(t, "a1", "A", "110", nil)
	res := h.bid(t, "a1", "B", "120", nil)
	require.True(t, res.NewCurrentPrice.Equal(d("120")))

	bids, err := h.repo.GetBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
}

func TestEngine_InvoiceRetriedUntilDelivered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.ledger.failures.Store(3)

	disp := dispatch.New(dispatch.Config{Workers: 1, QueueSize: 4, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
	defer func() { require.NoError(t, disp.Close(context.Background())) }()
	h.svc = NewBiddingService(h.repo, DefaultSettings(), Collaborators{
		Notifier:   h.notifier,
		Invoices:   h.ledger,
		Dispatcher: disp,
		Clock:      h.clock,
	})

	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.clock.Advance(time.Hour)

	got, err := h.svc.ReconcileIfExpired(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, got.Status)

	require.Eventually(t, func() bool {
		_, err := h.ledger.GetInvoice(context.Background(), "a1", "A")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(4), h.ledger.calls.Load())
}

func TestEngine_ReconcileWithoutBids(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Minute)
	h.clock.Advance(time.Minute)

	got, err := h.svc.ReconcileIfExpired(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, got.Status)
	require.Nil(t, got.WinnerID)
	require.True(t, got.CurrentPrice.Equal(d("100")))
	require.Zero(t, h.ledger.calls.Load())
	require.Empty(t, h.notifier.recipients(model.NotificationWon))
	require.Equal(t, []model.AuctionEventType{model.EventEnded}, h.events.types())
}

func TestEngine_ReconcileExpiredBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Minute)
	h.auction("a2", "100", "10", 2*time.Minute)
	h.auction("a3", "100", "10", 3*time.Minute)
	h.auction("later", "100", "10", time.Hour)
	h.bid(t, "a2", "A", "110", nil)
	h.bid(t, "a3", "B", "110", nil)

	h.clock.Advance(5 * time.Minute)
	n, err := h.svc.ReconcileExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, int32(2), h.ledger.calls.Load())

	n, err = h.svc.ReconcileExpired(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int32(2), h.ledger.calls.Load())

	active, err := h.svc.ListAuctions(context.Background(), model.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "later", active[0].AuctionID)
}

func TestEngine_ConcurrentReconcileEmitsOneInvoice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ReconcileIfExpired(context.Background(), "a1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), h.ledger.calls.Load())
	require.Equal(t, []string{"A"}, h.notifier.recipients(model.NotificationWon))
}

func TestEngine_BuyNow(t *testing.T) {
	t.Parallel()

	t.Run("settles_at_real_price", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		a := h.auction("a1", "100", "10", time.Hour)
		a.RealPrice = dp("300")
		h.repo.AddAuction(a)
		h.bid(t, "a1", "A", "110", nil)

		res, err := h.svc.BuyNow(context.Background(), "a1", "B")
		require.NoError(t, err)
		require.True(t, res.PurchasePrice.Equal(d("300")))
		require.True(t, res.BidFee.Equal(d("3.00")))
		require.True(t, res.DeliveryFee.Equal(d("5.00")))
		require.True(t, res.TotalWithFees.Equal(d("308.00")))
		require.True(t, res.Bid.IsBuyNow)

		got, err := h.repo.GetAuction(context.Background(), "a1")
		require.NoError(t, err)
		require.Equal(t, model.StatusEnded, got.Status)
		require.Equal(t, "B", *got.WinnerID)
		require.True(t, got.EndTime.Equal(t0))
		require.True(t, got.CurrentPrice.Equal(d("300")))

		inv, err := h.ledger.GetInvoice(context.Background(), "a1", "B")
		require.NoError(t, err)
		require.True(t, inv.TotalAmount.Equal(res.TotalWithFees))
		require.Equal(t, []string{"B"}, h.notifier.recipients(model.NotificationWon))

		// a later read does not invoice again
		_, err = h.svc.GetAuction(context.Background(), "a1")
		require.NoError(t, err)
		require.Equal(t, int32(1), h.ledger.calls.Load())

		_, err = h.svc.BuyNow(context.Background(), "a1", "C")
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotActive)
	})

	tests := []struct {
		name      string
		realPrice *decimal.Decimal
		buyer     string
		expire    bool
		wantErr   error
	}{
		{name: "no_real_price", realPrice: nil, buyer: "B", wantErr: biddingerrors.ErrBuyNowUnavailable},
		{name: "zero_real_price", realPrice: dp("0"), buyer: "B", wantErr: biddingerrors.ErrBuyNowUnavailable},
		{name: "real_price_below_current", realPrice: dp("105"), buyer: "B", wantErr: biddingerrors.ErrBuyNowUnavailable},
		{name: "seller_cannot_buy", realPrice: dp("300"), buyer: "seller", wantErr: biddingerrors.ErrSelfBid},
		{name: "expired", realPrice: dp("300"), buyer: "B", expire: true, wantErr: biddingerrors.ErrAuctionEnded},
		{name: "unknown_auction", realPrice: dp("300"), buyer: "B", wantErr: biddingerrors.ErrAuctionNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			a := h.auction("a1", "100", "10", time.Hour)
			a.RealPrice = tc.realPrice
			h.repo.AddAuction(a)
			h.bid(t, "a1", "A", "110", nil)
			if tc.expire {
				h.clock.Advance(time.Hour)
			}

			id := "a1"
			if tc.wantErr == biddingerrors.ErrAuctionNotFound {
				id = "missing"
			}
			_, err := h.svc.BuyNow(context.Background(), id, tc.buyer)
			require.ErrorIs(t, err, tc.wantErr)

			bids, err := h.repo.GetBidsByAuction(context.Background(), "a1")
			require.NoError(t, err)
			require.Len(t, bids, 1)
		})
	}
}

func TestEngine_CancelAuction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.auction("a2", "100", "10", time.Minute)

	got, err := h.svc.CancelAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.Contains(t, h.events.types(), model.EventCancelled)

	_, err = h.svc.CancelAuction(context.Background(), "a1")
	require.ErrorIs(t, err, biddingerrors.ErrInvalidTransition)

	h.clock.Advance(time.Minute)
	_, err = h.svc.CancelAuction(context.Background(), "a2")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionEnded)

	_, err = h.svc.CancelAuction(context.Background(), "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestEngine_CreateAuction(t *testing.T) {
	t.Parallel()

	valid := CreateAuctionRequest{
		SellerID:      "seller",
		Title:         "Lamp",
		StartingPrice: d("100"),
		Increment:     d("10"),
		EndTime:       t0.Add(time.Hour),
	}

	tests := []struct {
		name    string
		mutate  func(r *CreateAuctionRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *CreateAuctionRequest) {}},
		{name: "valid_with_buy_now", mutate: func(r *CreateAuctionRequest) { r.RealPrice = dp("250") }},
		{name: "missing_seller", mutate: func(r *CreateAuctionRequest) { r.SellerID = "" }, wantErr: true},
		{name: "blank_title", mutate: func(r *CreateAuctionRequest) { r.Title = "  " }, wantErr: true},
		{name: "zero_start", mutate: func(r *CreateAuctionRequest) { r.StartingPrice = d("0") }, wantErr: true},
		{name: "zero_increment", mutate: func(r *CreateAuctionRequest) { r.Increment = d("0") }, wantErr: true},
		{name: "end_in_past", mutate: func(r *CreateAuctionRequest) { r.EndTime = t0 }, wantErr: true},
		{name: "buy_now_below_start", mutate: func(r *CreateAuctionRequest) { r.RealPrice = dp("50") }, wantErr: true},
		{name: "fractional_cent_increment", mutate: func(r *CreateAuctionRequest) { r.Increment = d("0.005") }, wantErr: true},
		{name: "fractional_cent_start", mutate: func(r *CreateAuctionRequest) { r.StartingPrice = d("99.999") }, wantErr: true},
		{name: "fractional_cent_buy_now", mutate: func(r *CreateAuctionRequest) { r.RealPrice = dp("250.001") }, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			req := valid
			tc.mutate(&req)

			a, err := h.svc.CreateAuction(context.Background(), req)
			if tc.wantErr {
				require.ErrorIs(t, err, biddingerrors.ErrInvalidAuction)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, a.AuctionID)
			require.Equal(t, model.StatusActive, a.Status)
			require.True(t, a.CurrentPrice.Equal(req.StartingPrice))
			require.True(t, a.StartTime.Equal(t0))

			stored, err := h.svc.GetAuction(context.Background(), a.AuctionID)
			require.NoError(t, err)
			require.Equal(t, a.AuctionID, stored.AuctionID)
		})
	}
}

func TestEngine_ReadPathsReconcile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.bid(t, "a1", "B", "120", nil)
	h.clock.Advance(time.Hour)

	auctions, err := h.svc.GetAuctionsByUser(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, auctions, 1)
	require.Equal(t, model.StatusEnded, auctions[0].Status)
	require.Equal(t, "B", *auctions[0].WinnerID)

	winning, err := h.svc.GetWinningBid(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "B", winning.UserID)

	bids, err := h.svc.GetBidsForAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, int32(1), h.ledger.calls.Load())

	_, err = h.svc.ListAuctions(context.Background(), "bogus")
	require.ErrorIs(t, err, biddingerrors.ErrInvalidAuction)
}

func TestEngine_RunSweeper(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ledger.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got, err := h.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, got.Status)
}

func TestEngine_GetBidsByUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.auction("a2", "100", "10", 2*time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.bid(t, "a1", "B", "120", nil)
	h.bid(t, "a2", "A", "110", nil)

	history, err := h.svc.GetBidsByUser(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "a2", history[0].Bid.AuctionID)
	require.True(t, history[0].IsWinning)
	require.Equal(t, "a1", history[1].Bid.AuctionID)
	require.False(t, history[1].IsWinning)
	require.True(t, history[1].CurrentPrice.Equal(d("120")))
	require.Equal(t, model.StatusActive, history[1].AuctionStatus)

	// a1 expires unread; the history read ends it and marks the winner
	h.clock.Advance(time.Hour)
	history, err = h.svc.GetBidsByUser(context.Background(), "B")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.StatusEnded, history[0].AuctionStatus)
	require.True(t, history[0].IsWinner)
	require.False(t, history[0].IsWinning)
	require.Equal(t, "B", *history[0].WinnerID)
	require.Equal(t, int32(1), h.ledger.calls.Load())

	history, err = h.svc.GetBidsByUser(context.Background(), "A")
	require.NoError(t, err)
	require.False(t, history[1].IsWinner)
	require.True(t, history[0].IsWinning)

	history, err = h.svc.GetBidsByUser(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = h.svc.GetBidsByUser(context.Background(), " ")
	require.ErrorIs(t, err, biddingerrors.ErrInvalidBid)
}

func TestEngine_GetAuctionsBySeller(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.auction("a2", "100", "10", 2*time.Hour)
	other := h.auction("a3", "100", "10", time.Hour)
	other.SellerID = "someone-else"
	h.repo.AddAuction(other)

	h.bid(t, "a1", "A", "110", nil)
	h.bid(t, "a1", "B", "120", nil)
	h.bid(t, "a1", "A", "130", nil)
	h.clock.Advance(time.Hour)

	listings, err := h.svc.GetAuctionsBySeller(context.Background(), "seller")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "a1", listings[0].Auction.AuctionID)
	require.Equal(t, model.StatusEnded, listings[0].Auction.Status)
	require.Equal(t, "A", *listings[0].Auction.WinnerID)
	require.Equal(t, 2, listings[0].BidderCount)
	require.Equal(t, "a2", listings[1].Auction.AuctionID)
	require.Equal(t, 0, listings[1].BidderCount)
	require.Equal(t, int32(1), h.ledger.calls.Load())

	listings, err = h.svc.GetAuctionsBySeller(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, listings)

	_, err = h.svc.GetAuctionsBySeller(context.Background(), "")
	require.ErrorIs(t, err, biddingerrors.ErrInvalidAuction)
}

// flakyReadRepo fails GetAuction for selected auctions
type flakyReadRepo struct {
	*repository.MemoryRepo
	fail map[string]error
}

func (r flakyReadRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if err, ok := r.fail[auctionID]; ok {
		return model.Auction{}, err
	}
	return r.MemoryRepo.GetAuction(ctx, auctionID)
}

func TestEngine_ReconcileExpiredReportsFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("ok", "100", "10", time.Minute)
	h.auction("busy", "100", "10", time.Minute)
	h.auction("broken", "100", "10", time.Minute)
	h.clock.Advance(5 * time.Minute)

	diskGone := errors.New("disk gone")
	svc := NewBiddingService(flakyReadRepo{MemoryRepo: h.repo, fail: map[string]error{
		"busy":   biddingerrors.ErrConcurrencyConflict,
		"broken": diskGone,
	}}, DefaultSettings(), Collaborators{Clock: h.clock})

	n, err := svc.ReconcileExpired(context.Background())
	require.Equal(t, 1, n)
	require.ErrorIs(t, err, diskGone)
	require.NotErrorIs(t, err, biddingerrors.ErrConcurrencyConflict)

	got, err := h.repo.GetAuction(context.Background(), "busy")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, got.Status)
}

func TestEngine_ReissueInvoices(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.auction("a2", "100", "10", time.Hour)
	h.auction("open", "100", "10", 2*time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.bid(t, "open", "B", "110", nil)

	// the only inline attempt fails and nothing retries it, as after a restart
	h.ledger.failures.Store(1)
	h.clock.Advance(time.Hour)
	_, err := h.svc.ReconcileExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), h.ledger.calls.Load())
	_, err = h.ledger.GetInvoice(context.Background(), "a1", "A")
	require.Error(t, err)

	n, err := h.svc.ReissueInvoices(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	inv, err := h.ledger.GetInvoice(context.Background(), "a1", "A")
	require.NoError(t, err)
	require.True(t, inv.TotalAmount.Equal(d("116.10")))
	require.True(t, inv.CreatedAt.Equal(t0.Add(time.Hour)))

	n, err = h.svc.ReissueInvoices(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int32(2), h.ledger.calls.Load())
}

// createOnlyLedger cannot report existing invoices
type createOnlyLedger struct{ calls atomic.Int32 }

func (l *createOnlyLedger) CreateInvoice(context.Context, model.Invoice) error {
	l.calls.Add(1)
	return nil
}

func TestEngine_ReissueInvoicesWithoutLookup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.auction("a1", "100", "10", time.Hour)
	h.bid(t, "a1", "A", "110", nil)
	h.clock.Advance(time.Hour)
	_, err := h.svc.ReconcileIfExpired(context.Background(), "a1")
	require.NoError(t, err)

	sink := &createOnlyLedger{}
	svc := NewBiddingService(h.repo, DefaultSettings(), Collaborators{Invoices: sink, Clock: h.clock})

	for i := 1; i <= 2; i++ {
		n, err := svc.ReissueInvoices(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, int32(i), sink.calls.Load())
	}
}
