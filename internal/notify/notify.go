// Package notify holds Notifier implementations: a structured-log sink and a
// Redis-backed de-duplicating wrapper that suppresses repeated event IDs.
package notify

import (
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier delivers one notification
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// LogNotifier writes notifications to the application log
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) error {
	fields := map[string]any{
		"event_id":   n.EventID,
		"user_id":    n.UserID,
		"kind":       string(n.Kind),
		"auction_id": n.AuctionID,
	}
	for k, v := range n.Context {
		fields["ctx_"+k] = v
	}
	utils.Info("notification", fields)
	return nil
}

// dedupStore is the subset of the Redis client used for de-duplication
type dedupStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DedupNotifier forwards each event ID to next at most once per TTL.
// A Redis outage does not block delivery: the event is forwarded anyway.
type DedupNotifier struct {
	store  dedupStore
	next   Notifier
	ttl    time.Duration
	prefix string
}

// NewDedupNotifier wraps next with Redis de-duplication
func NewDedupNotifier(client dedupStore, next Notifier, ttl time.Duration) *DedupNotifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupNotifier{store: client, next: next, ttl: ttl, prefix: "auction:notify:"}
}

func (d *DedupNotifier) Notify(ctx context.Context, n model.Notification) error {
	if n.EventID == "" {
		return d.next.Notify(ctx, n)
	}
	key := d.prefix + n.EventID

	fresh, err := d.store.SetNX(ctx, key, n.UserID, d.ttl).Result()
	if err != nil {
		utils.Warn("notification dedup unavailable, delivering anyway", map[string]any{
			"event_id": n.EventID,
			"error":    err.Error(),
		})
		return d.next.Notify(ctx, n)
	}
	if !fresh {
		utils.Debug("duplicate notification suppressed", map[string]any{"event_id": n.EventID})
		return nil
	}

	if err := d.next.Notify(ctx, n); err != nil {
		// release the key so the retry is not mistaken for a duplicate
		if delErr := d.store.Del(ctx, key).Err(); delErr != nil {
			utils.Warn("failed to release notification dedup key", map[string]any{
				"event_id": n.EventID,
				"error":    delErr.Error(),
			})
		}
		return fmt.Errorf("notify %s: %w", n.EventID, err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}
