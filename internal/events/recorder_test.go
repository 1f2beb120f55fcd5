package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/healthgate/internal/events"
	"github.com/aman-churiwal/healthgate/internal/models"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]*models.RateLimitEvent
	err     error
	pruned  []time.Time
}

func (s *fakeSink) CreateBatch(_ context.Context, evs []*models.RateLimitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, evs)
	return nil
}

func (s *fakeSink) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, before)
	return 0, nil
}

func (s *fakeSink) events() []*models.RateLimitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RateLimitEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func blockedEvent(identity string) ratelimit.Event {
	return ratelimit.Event{
		Time:       time.Unix(1_700_000_000, 0),
		Category:   ratelimit.AdminGrantRole,
		Identity:   identity,
		Outcome:    ratelimit.Blocked,
		Method:     "POST",
		Path:       "/api/admin/grant-role",
		RequestID:  "req-1",
		Limit:      5,
		RetryAfter: 3599,
	}
}

func run(t *testing.T, rec *events.Recorder) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, rec.Run(ctx))
	}()
	return func() {
		stop()
		<-done
	}
}

func TestRecorder_FlushesFullBatches(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil, events.WithBatchSize(2), events.WithFlushEvery(time.Hour))
	stop := run(t, rec)
	defer stop()

	rec.Record(blockedEvent("a"))
	rec.Record(blockedEvent("b"))

	assert.Eventually(t, func() bool { return sink.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), rec.Stats().Written)
}

func TestRecorder_FlushesOnTick(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil, events.WithFlushEvery(10*time.Millisecond))
	stop := run(t, rec)
	defer stop()

	rec.Record(blockedEvent("a"))

	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorder_FinalFlushOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil, events.WithFlushEvery(time.Hour))
	stop := run(t, rec)

	for _, id := range []string{"a", "b", "c"} {
		rec.Record(blockedEvent(id))
	}
	stop()

	evs := sink.events()
	require.Len(t, evs, 3)

	ev := evs[0]
	assert.Equal(t, "admin:grant-role", ev.Category)
	assert.Equal(t, "blocked", ev.Outcome)
	assert.Equal(t, "a", ev.Identity)
	assert.Equal(t, 5, ev.MaxRequests)
	assert.Equal(t, int64(3599), ev.RetryAfter)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
}

func TestRecorder_DropsWhenBufferIsFull(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil, events.WithBufferSize(1))

	for range 3 {
		rec.Record(blockedEvent("a"))
	}

	assert.Equal(t, int64(2), rec.Stats().Dropped)
}

func TestRecorder_SinkFailureIsLoggedAndCounted(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &fakeSink{err: errors.New("connection refused")}
	rec := events.NewRecorder(sink, zap.New(core), events.WithFlushEvery(time.Hour))
	stop := run(t, rec)

	rec.Record(blockedEvent("a"))
	stop()

	assert.Equal(t, int64(1), rec.Stats().Failed)
	assert.Equal(t, int64(0), rec.Stats().Written)
	assert.Equal(t, 1, logs.FilterMessage("failed to write rate limit events").Len())
}

func TestRecorder_PrunesWithRetention(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil,
		events.WithFlushEvery(10*time.Millisecond),
		events.WithRetention(24*time.Hour),
	)
	stop := run(t, rec)
	defer stop()

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.pruned) > 0
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	cutoff := sink.pruned[0]
	sink.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
}

func TestRecorder_PrunesOncePerInterval(t *testing.T) {
	sink := &fakeSink{}
	rec := events.NewRecorder(sink, nil,
		events.WithFlushEvery(5*time.Millisecond),
		events.WithRetention(24*time.Hour),
		events.WithPruneEvery(time.Hour),
	)
	stop := run(t, rec)

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.pruned) > 0
	}, time.Second, 5*time.Millisecond)

	// many more flush ticks, still inside the prune interval
	time.Sleep(100 * time.Millisecond)
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.pruned, 1)
}
