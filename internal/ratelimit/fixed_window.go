package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/healthgate/internal/storage"
)

// FixedWindowLimiter counts requests in calendar-aligned buckets of one
// window each. It is cheaper than the sliding window but admits up to twice
// the quota across a bucket boundary, and rejected attempts still increment
// the bucket. Only used when explicitly configured.
type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	config Config
	key    KeyFunc
	now    Clock
}

func NewFixedWindowLimiter(redis *storage.RedisClient, cfg Config, key KeyFunc) *FixedWindowLimiter {
	if key == nil {
		key = PlainKey
	}
	return &FixedWindowLimiter{
		redis:  redis,
		config: cfg,
		key:    key,
		now:    time.Now,
	}
}

func (f *FixedWindowLimiter) WithClock(now Clock) *FixedWindowLimiter {
	f.now = now
	return f
}

func (f *FixedWindowLimiter) IsConfigured() bool {
	return f.redis.IsConfigured()
}

func (f *FixedWindowLimiter) Limit(ctx context.Context, identifier string) (Result, error) {
	if !f.redis.IsConfigured() {
		return Result{}, storage.ErrNotConfigured
	}

	nowMs := f.now().UnixMilli()
	windowMs := f.config.Window.Milliseconds()
	bucket := nowMs / windowMs
	redisKey := f.key(f.config.Namespace, identifier) + ":" + strconv.FormatInt(bucket, 10)

	pipe := f.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// bucket keys are unique per window, so refreshing the ttl bounds them to two windows
	pipe.PExpire(ctx, redisKey, f.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("fixed window incr: %w", err)
	}

	count := int(incr.Val())

	return Result{
		Success:   count <= f.config.MaxRequests,
		Limit:     f.config.MaxRequests,
		Remaining: remaining(f.config.MaxRequests, count),
		Reset:     ceilSeconds((bucket + 1) * windowMs),
	}, nil
}

func (f *FixedWindowLimiter) Config() Config {
	return f.config
}
