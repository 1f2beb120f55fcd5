package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultShards     = 32
	defaultSweepEvery = time.Minute
)

// Store is the process-local counter map shared by in-memory limiters.
// Keys are "namespace:identity"; each shard has its own lock so unrelated
// identities do not contend.
type Store struct {
	shards     []*shard
	sweepEvery time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	timestamps []int64 // epoch ms, ascending
	window     int64   // ms, kept for sweeping
}

// Admission is what Store.Admit observed inside the critical section.
type Admission struct {
	Admitted bool
	Count    int   // requests in window after the call
	Oldest   int64 // oldest surviving timestamp, epoch ms; 0 when the window is empty
}

type StoreOption func(*Store)

func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

func WithSweepEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepEvery = d }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards:     newShards(defaultShards),
		sweepEvery: defaultSweepEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return shards
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Admit prunes the key's timestamps to the trailing window ending at now and
// appends now if fewer than max remain. Read, prune, decide and append happen
// under one lock.
func (s *Store) Admit(key string, now time.Time, window time.Duration, max int) Admission {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.entries[key]
	if !ok {
		ent = &entry{}
		sh.entries[key] = ent
	}
	ent.window = windowMs
	ent.prune(nowMs - windowMs)

	if len(ent.timestamps) >= max {
		return Admission{
			Admitted: false,
			Count:    len(ent.timestamps),
			Oldest:   ent.oldest(),
		}
	}

	ent.timestamps = append(ent.timestamps, nowMs)
	return Admission{
		Admitted: true,
		Count:    len(ent.timestamps),
		Oldest:   ent.oldest(),
	}
}

// Drops timestamps at or before windowStart
func (e *entry) prune(windowStart int64) {
	cut := 0
	for cut < len(e.timestamps) && e.timestamps[cut] <= windowStart {
		cut++
	}
	if cut == 0 {
		return
	}
	// copy so the backing array does not keep growing at the front
	e.timestamps = append(e.timestamps[:0], e.timestamps[cut:]...)
}

func (e *entry) oldest() int64 {
	if len(e.timestamps) == 0 {
		return 0
	}
	return e.timestamps[0]
}

// Sweep removes keys whose every timestamp has left its window and returns
// how many were removed.
func (s *Store) Sweep(now time.Time) int {
	nowMs := now.UnixMilli()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, ent := range sh.entries {
			n := len(ent.timestamps)
			if n == 0 || ent.timestamps[n-1] <= nowMs-ent.window {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed
}

// Len returns the number of keys currently held.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) SweepEvery() time.Duration {
	return s.sweepEvery
}

// StartJanitor sweeps on a ticker until ctx is cancelled. onSweep, if set,
// receives the number of removed keys after each pass.
func (s *Store) StartJanitor(ctx context.Context, onSweep func(removed int)) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				removed := s.Sweep(now)
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}
