package ratelimit

import (
	"context"
	"time"
)

// SlidingWindowLimiter counts requests per identity over the trailing window
// in a process-local Store. It never performs I/O and never fails.
type SlidingWindowLimiter struct {
	store  *Store
	config Config
	now    Clock
}

func NewSlidingWindowLimiter(store *Store, cfg Config) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		store:  store,
		config: cfg,
		now:    time.Now,
	}
}

// NewInMemory is the (maxRequests, window, namespace) form used by call
// sites that do not go through a Registry.
func NewInMemory(store *Store, maxRequests int, window time.Duration, namespace string) *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(store, Config{
		Key:         namespace,
		MaxRequests: maxRequests,
		Window:      window,
		Namespace:   namespace,
	})
}

func (s *SlidingWindowLimiter) WithClock(now Clock) *SlidingWindowLimiter {
	s.now = now
	return s
}

func (s *SlidingWindowLimiter) Limit(_ context.Context, identifier string) (Result, error) {
	now := s.now()
	adm := s.store.Admit(s.config.Namespace+":"+identifier, now, s.config.Window, s.config.MaxRequests)

	// Reset is when the oldest counted request leaves the window
	oldest := adm.Oldest
	if oldest == 0 {
		oldest = now.UnixMilli()
	}

	return Result{
		Success:   adm.Admitted,
		Limit:     s.config.MaxRequests,
		Remaining: remaining(s.config.MaxRequests, adm.Count),
		Reset:     ceilSeconds(oldest + s.config.Window.Milliseconds()),
	}, nil
}

func (s *SlidingWindowLimiter) Config() Config {
	return s.config
}
