package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/healthgate/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errMalformedReply = errors.New("malformed reply from redis")

// Prune, count, conditionally add and read the oldest score in one step.
// Returns {admitted, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	count = count + 1
	admitted = 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end

return {admitted, count, oldestScore}
`)

// RedisSlidingWindowLimiter is the distributed counterpart of
// SlidingWindowLimiter: same result contract, shared across instances.
type RedisSlidingWindowLimiter struct {
	redis  *storage.RedisClient
	config Config
	key    KeyFunc
	now    Clock
}

func NewRedisSlidingWindowLimiter(redis *storage.RedisClient, cfg Config, key KeyFunc) *RedisSlidingWindowLimiter {
	if key == nil {
		key = PlainKey
	}
	return &RedisSlidingWindowLimiter{
		redis:  redis,
		config: cfg,
		key:    key,
		now:    time.Now,
	}
}

func (s *RedisSlidingWindowLimiter) WithClock(now Clock) *RedisSlidingWindowLimiter {
	s.now = now
	return s
}

func (s *RedisSlidingWindowLimiter) IsConfigured() bool {
	return s.redis.IsConfigured()
}

func (s *RedisSlidingWindowLimiter) Limit(ctx context.Context, identifier string) (Result, error) {
	nowMs := s.now().UnixMilli()
	windowMs := s.config.Window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	reply, err := s.redis.Run(ctx, slidingWindowScript,
		[]string{s.key(s.config.Namespace, identifier)},
		nowMs, windowMs, s.config.MaxRequests, member)
	if err != nil {
		return Result{}, fmt.Errorf("sliding window script: %w", err)
	}

	vals, err := int64s(reply, 3)
	if err != nil {
		return Result{}, err
	}

	oldest := vals[2]
	if oldest == 0 {
		oldest = nowMs
	}

	return Result{
		Success:   vals[0] == 1,
		Limit:     s.config.MaxRequests,
		Remaining: remaining(s.config.MaxRequests, int(vals[1])),
		Reset:     ceilSeconds(oldest + windowMs),
	}, nil
}

func (s *RedisSlidingWindowLimiter) Config() Config {
	return s.config
}

func int64s(reply interface{}, n int) ([]int64, error) {
	raw, ok := reply.([]interface{})
	if !ok || len(raw) != n {
		return nil, fmt.Errorf("%w: %v", errMalformedReply, reply)
	}

	out := make([]int64, n)
	for i, v := range raw {
		iv, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", errMalformedReply, i, v)
		}
		out[i] = iv
	}
	return out, nil
}
