package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rentledger/internal/config"
)

const keyWebhookProvider = "webhook:ingest:%s"

// WebhookLimiter caps webhook intake per provider. Deliveries over the
// limit are acknowledged but not queued.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(client redis.UniversalClient, cfg config.Config) *WebhookLimiter {
	if client == nil || cfg.Webhook.RateLimit <= 0 || cfg.Webhook.RateBurst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Webhook.RateLimit,
		burst:  cfg.Webhook.RateBurst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open: a disabled limiter or a Redis error lets the delivery through.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyWebhookProvider, strings.ToLower(strings.TrimSpace(provider)))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return true, err
	}
	return res.Allowed, nil
}
