package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Twilio retries webhooks it considers undelivered, so the same MessageSid
// can arrive more than once. Deduper claims each sid exactly once.
type Deduper interface {
	// Claim returns true when sid has not been seen before.
	Claim(ctx context.Context, sid string) (bool, error)
}

// RedisDeduper claims sids with SET NX under a TTL. Entries expire well
// after Twilio's retry window, so memory stays bounded.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("messaging: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, sid string) (bool, error) {
	if sid == "" {
		// No sid to key on; treat as fresh rather than dropping the message.
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, "citabot:msg:"+sid, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("messaging: claim sid: %w", err)
	}
	return ok, nil
}

// NoopDeduper accepts everything. Used when Redis is not configured; the
// dialog engine's commit guard still prevents double bookings.
type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
