package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Dedup marks webhook event ids as seen with a SetNX + TTL, so duplicate
// gateway deliveries are acknowledged without a second reconcile. The
// reconciler's conditional write stays the authoritative guard; this only
// short-circuits the common case.
type Dedup struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	return &Dedup{Client: client, TTL: ttl}
}

// MarkSeen records the event id and reports whether this delivery is the
// first one. Errors are returned so callers can decide to proceed anyway.
func (d *Dedup) MarkSeen(ctx context.Context, gateway, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	key := fmt.Sprintf("webhook_event:%s:%s", gateway, eventID)
	first, err := d.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.TTL).Result()
	if err != nil {
		return true, err
	}
	return first, nil
}
