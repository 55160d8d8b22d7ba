package main

import (
	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/config"
	"auction-engine/internal/database"
	"auction-engine/internal/delivery"
	"auction-engine/internal/dispatch"
	"auction-engine/internal/ledger"
	"auction-engine/internal/live"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/queue"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/utils"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// store is what the engine and the delivery calculator need from storage
type store interface {
	repository.AuctionDB
	repository.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" && (cfg.Storage == config.StoragePostgres || cfg.InvoiceSink != config.InvoiceMemory) {
		pool, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			utils.Fatal("failed to connect to postgres", map[string]any{"error": err.Error()})
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			utils.Fatal("failed to migrate database", map[string]any{"error": err.Error()})
		}
	}

	var repo store
	var addUser func(context.Context, model.User) error
	if cfg.Storage == config.StoragePostgres {
		pg := repository.NewPostgresRepo(pool)
		repo, addUser = pg, pg.UpsertUser
	} else {
		mem := repository.NewMemoryRepo()
		repo = mem
		addUser = func(_ context.Context, u model.User) error {
			mem.AddUser(u)
			return nil
		}
	}

	invoices := setupInvoices(ctx, cfg, pool)
	notifier, closeNotifier := setupNotifier(ctx, cfg)
	defer closeNotifier()

	disp := dispatch.New(dispatch.Config{
		Workers:     cfg.DispatchWorkers,
		QueueSize:   cfg.DispatchQueueSize,
		MaxInterval: cfg.DispatchMaxInterval,
	})
	hub := live.NewHub()

	biddingSvc := bidding.NewBiddingService(repo, bidding.Settings{
		AntiSnipeThreshold: cfg.AntiSnipeThreshold,
		AntiSnipeExtension: cfg.AntiSnipeExtension,
		BidFeeRate:         cfg.BidFeeRate,
		SweepConcurrency:   cfg.SweepConcurrency,
	}, bidding.Collaborators{
		Notifier:   notifier,
		Invoices:   invoices,
		Fees:       delivery.NewZoneCalculator(repo, cfg.DeliveryFees, cfg.DefaultDeliveryFee),
		Events:     hub,
		Dispatcher: disp,
	})

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, biddingSvc, addUser); err != nil {
			utils.Warn("failed to seed demo data", map[string]any{"error": err.Error()})
		}
	}

	if _, err := biddingSvc.ReissueInvoices(ctx); err != nil {
		utils.Warn("failed to reissue invoices", map[string]any{"error": err.Error()})
	}
	go biddingSvc.RunSweeper(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.SetupRouter(biddingSvc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		utils.Info("starting auction server", map[string]any{
			"addr":         srv.Addr,
			"env":          cfg.Env,
			"storage":      cfg.Storage,
			"invoice_sink": cfg.InvoiceSink,
			"notify_sink":  cfg.NotifySink,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server stopped", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("http shutdown failed", map[string]any{"error": err.Error()})
	}
	if err := disp.Close(shutdownCtx); err != nil {
		utils.Error("side effects left undelivered", map[string]any{"error": err.Error(), "pending": disp.Pending(), "dropped": disp.Dropped()})
	}
}

// setupInvoices picks the invoice ledger. With the amqp sink, invoice commands
// are published and a consumer in this process writes them to a ledger.
func setupInvoices(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) bidding.InvoiceLedger {
	var sink queue.InvoiceWriter = ledger.NewMemoryLedger()
	if pool != nil {
		sink = ledger.NewPostgresLedger(pool)
	}

	switch cfg.InvoiceSink {
	case config.InvoicePostgres:
		return sink
	case config.InvoiceAMQP:
		consumer := queue.NewInvoiceConsumer(cfg.RabbitMQURL, sink)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				utils.Error("invoice consumer stopped", map[string]any{"error": err.Error()})
			}
		}()
		return queue.NewPublisher(cfg.RabbitMQURL)
	default:
		return ledger.NewMemoryLedger()
	}
}

// setupNotifier picks the notification sink and wraps it with Redis
// de-duplication when REDIS_ADDR is set
func setupNotifier(ctx context.Context, cfg config.Config) (bidding.Notifier, func()) {
	var next notify.Notifier = notify.LogNotifier{}
	if cfg.NotifySink == config.NotifyAMQP {
		next = queue.NewPublisher(cfg.RabbitMQURL)
	}
	if cfg.RedisAddr == "" {
		return next, func() {}
	}

	client, err := notify.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		utils.Warn("redis unavailable, notifications are not de-duplicated", map[string]any{"error": err.Error()})
		return next, func() {}
	}
	return notify.NewDedupNotifier(client, next, cfg.NotifyDedupTTL), func() { _ = client.Close() }
}

// seedDemoData adds sample users and, when the store is empty, sample auctions
func seedDemoData(ctx context.Context, svc *bidding.BiddingService, addUser func(context.Context, model.User) error) error {
	users := []model.User{
		{UserID: "seller1", Username: "Sally Seller", DeliveryZone: "local"},
		{UserID: "user1", Username: "Alice", DeliveryZone: "local"},
		{UserID: "user2", Username: "Bob", DeliveryZone: "national"},
		{UserID: "user3", Username: "Carol", DeliveryZone: "international"},
	}
	for _, u := range users {
		if err := addUser(ctx, u); err != nil {
			return err
		}
	}

	existing, err := svc.ListAuctions(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	buyNow := decimal.NewFromInt(500)
	auctions := []bidding.CreateAuctionRequest{
		{SellerID: "seller1", Title: "Vintage camera", Description: "Working 35mm rangefinder", StartingPrice: decimal.NewFromInt(100), Increment: decimal.NewFromInt(10), RealPrice: &buyNow, EndTime: time.Now().Add(time.Hour)},
		{SellerID: "seller1", Title: "Oak bookshelf", Description: "Five shelves", StartingPrice: decimal.NewFromInt(200), Increment: decimal.NewFromInt(5), EndTime: time.Now().Add(30 * time.Minute)},
		{SellerID: "seller1", Title: "Signed poster", Description: "Framed", StartingPrice: decimal.NewFromInt(150), Increment: decimal.NewFromInt(15), EndTime: time.Now().Add(10 * time.Minute)},
	}
	for _, req := range auctions {
		if _, err := svc.CreateAuction(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
