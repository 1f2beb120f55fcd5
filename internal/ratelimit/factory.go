package ratelimit

import (
	"github.com/aman-churiwal/healthgate/internal/storage"
)

const (
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmFixedWindow   = "fixed_window"
)

// Backend describes where counters live. Redis wins when it is configured;
// otherwise every limiter shares Store.
type Backend struct {
	Redis     *storage.RedisClient
	Store     *Store
	Algorithm string
	Key       KeyFunc
	Clock     Clock
}

func (b Backend) Distributed() bool {
	return b.Redis.IsConfigured()
}

func NewLimiter(b Backend, cfg Config) Limiter {
	if !b.Distributed() {
		store := b.Store
		if store == nil {
			store = NewStore()
		}
		l := NewSlidingWindowLimiter(store, cfg)
		if b.Clock != nil {
			l.WithClock(b.Clock)
		}
		return l
	}

	switch b.Algorithm {
	case AlgorithmFixedWindow:
		l := NewFixedWindowLimiter(b.Redis, cfg, b.Key)
		if b.Clock != nil {
			l.WithClock(b.Clock)
		}
		return l
	default:
		l := NewRedisSlidingWindowLimiter(b.Redis, cfg, b.Key)
		if b.Clock != nil {
			l.WithClock(b.Clock)
		}
		return l
	}
}
