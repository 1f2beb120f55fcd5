package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one limiter call.
type Result struct {
	Success   bool  `json:"success"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"` // epoch seconds
}

type Limiter interface {
	// Limit counts one request for identifier and reports whether it was admitted.
	Limit(ctx context.Context, identifier string) (Result, error)

	Config() Config
}

// Clock is injected where tests need to move time.
type Clock func() time.Time

// Rounds an epoch-millisecond instant up to whole seconds
func ceilSeconds(ms int64) int64 {
	return (ms + 999) / 1000
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
