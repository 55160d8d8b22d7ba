package integrationtests

import (
	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/clock"
	"auction-engine/internal/delivery"
	"auction-engine/internal/ledger"
	"auction-engine/internal/live"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a fully wired in-memory application with a controllable clock
type testEnv struct {
	router  *gin.Engine
	repo    *repository.MemoryRepo
	clock   *clock.Fake
	ledger  *ledger.MemoryLedger
	hub     *live.Hub
	service *bidding.BiddingService
}

// SetupTestEnv initializes the router over an in-memory repository seeded
// with the given auctions and a few users with delivery zones.
func SetupTestEnv(t *testing.T, auctions ...model.Auction) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		repo:   repository.NewMemoryRepo(),
		clock:  clock.NewFake(baseTime),
		ledger: ledger.NewMemoryLedger(),
		hub:    live.NewHub(),
	}
	t.Cleanup(env.hub.Close)

	for _, u := range []model.User{
		{UserID: "seller1", DeliveryZone: "local"},
		{UserID: "user1", DeliveryZone: "local"},
		{UserID: "user2", DeliveryZone: "national"},
		{UserID: "user3", DeliveryZone: "international"},
	} {
		env.repo.AddUser(u)
	}
	for _, a := range auctions {
		env.repo.AddAuction(a)
	}

	fees := map[string]decimal.Decimal{
		"local":         decimal.RequireFromString("5.00"),
		"national":      decimal.RequireFromString("12.50"),
		"international": decimal.RequireFromString("35.00"),
	}
	env.service = bidding.NewBiddingService(env.repo, bidding.DefaultSettings(), bidding.Collaborators{
		Invoices: env.ledger,
		Fees:     delivery.NewZoneCalculator(env.repo, fees, decimal.RequireFromString("12.50")),
		Events:   env.hub,
		Clock:    env.clock,
	})
	env.router = server.SetupRouter(env.service, env.hub)
	return env
}

// NewAuction returns an active auction owned by seller1 that ends in endIn
func NewAuction(id string, startingPrice, increment int64, endIn time.Duration) model.Auction {
	start := decimal.NewFromInt(startingPrice)
	return model.Auction{
		AuctionID:     id,
		SellerID:      "seller1",
		Title:         "title " + id,
		Description:   "description " + id,
		StartingPrice: start,
		Increment:     decimal.NewFromInt(increment),
		CurrentPrice:  start,
		StartTime:     baseTime.Add(-time.Hour),
		EndTime:       baseTime.Add(endIn),
		Status:        model.StatusActive,
		CreatedAt:     baseTime.Add(-time.Hour),
		UpdatedAt:     baseTime.Add(-time.Hour),
	}
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// data returns the "data" object of a successful response
func data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	d, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return d
}
