// Package events persists blocked and degraded rate limit decisions off the
// request path.
package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/healthgate/internal/models"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 1024
	defaultBatchSize  = 100
	defaultFlushEvery = 5 * time.Second
	defaultPruneEvery = time.Hour
	flushTimeout      = 5 * time.Second
)

type Sink interface {
	CreateBatch(ctx context.Context, events []*models.RateLimitEvent) error
}

// Pruner is implemented by sinks that can drop old events.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Recorder queues events on a buffered channel and writes them in batches
// from a single worker. Record never blocks.
type Recorder struct {
	sink       Sink
	logger     *zap.Logger
	ch         chan *models.RateLimitEvent
	batchSize  int
	flushEvery time.Duration
	retention  time.Duration
	pruneEvery time.Duration
	lastPrune  time.Time // owned by Run

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

type Option func(*Recorder)

func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan *models.RateLimitEvent, n)
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithFlushEvery(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushEvery = d
		}
	}
}

// WithRetention deletes events older than d when the sink is also a Pruner.
func WithRetention(d time.Duration) Option {
	return func(r *Recorder) { r.retention = d }
}

// WithPruneEvery sets how often retention runs. The first flush tick always
// prunes.
func WithPruneEvery(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.pruneEvery = d
		}
	}
}

func NewRecorder(sink Sink, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		sink:       sink,
		logger:     logger.Named("events"),
		ch:         make(chan *models.RateLimitEvent, defaultBufferSize),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		pruneEvery: defaultPruneEvery,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Record(ev ratelimit.Event) {
	select {
	case r.ch <- toModel(ev):
	default:
		r.dropped.Add(1)
	}
}

func toModel(ev ratelimit.Event) *models.RateLimitEvent {
	return &models.RateLimitEvent{
		Timestamp:   ev.Time.UTC(),
		Category:    ev.Category.String(),
		Identity:    ev.Identity,
		Outcome:     ev.Outcome.String(),
		Method:      ev.Method,
		Path:        ev.Path,
		MaxRequests: ev.Limit,
		RetryAfter:  ev.RetryAfter,
		RequestID:   ev.RequestID,
		Error:       ev.Err,
	}
}

// Run writes queued events until ctx is cancelled, then drains the queue
// and flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	batch := make([]*models.RateLimitEvent, 0, r.batchSize)

	for {
		select {
		case ev := <-r.ch:
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
			if now := time.Now(); now.Sub(r.lastPrune) >= r.pruneEvery {
				r.lastPrune = now
				r.prune()
			}
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev := <-r.ch:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			r.flush(batch)
			return nil
		}
	}
}

func (r *Recorder) flush(batch []*models.RateLimitEvent) []*models.RateLimitEvent {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		r.logger.Warn("failed to write rate limit events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	} else {
		r.written.Add(int64(len(batch)))
	}

	return make([]*models.RateLimitEvent, 0, r.batchSize)
}

func (r *Recorder) prune() {
	pruner, ok := r.sink.(Pruner)
	if !ok || r.retention <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	removed, err := pruner.DeleteOlderThan(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("failed to prune rate limit events", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Debug("pruned rate limit events", zap.Int64("removed", removed))
	}
}

func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
