package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/healthgate/internal/models"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var ErrInvalidRange = errors.New("invalid time range")

// EventStore is the read side of the rate limit event repository.
type EventStore interface {
	FindByTimeRange(ctx context.Context, from, to time.Time, category string, limit, offset int) ([]models.RateLimitEvent, error)
	CountByCategory(ctx context.Context, from, to time.Time) ([]models.CategoryCount, error)
}

type EventService struct {
	store EventStore
}

func NewEventService(store EventStore) *EventService {
	return &EventService{store: store}
}

// Holds blocked/degraded totals for a time range
type EventSummary struct {
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
	Total      int64                  `json:"total"`
	Blocked    int64                  `json:"blocked"`
	Degraded   int64                  `json:"degraded"`
	ByCategory []models.CategoryCount `json:"by_category"`
}

type EventQuery struct {
	From     time.Time
	To       time.Time
	Category string
	Limit    int
	Offset   int
}

// Lists events newest first. Category, when set, must name a known category.
func (s *EventService) List(ctx context.Context, q EventQuery) ([]models.RateLimitEvent, error) {
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}

	category := ""
	if q.Category != "" {
		c, err := ratelimit.ParseCategory(q.Category)
		if err != nil {
			return nil, err
		}
		category = c.String()
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := max(q.Offset, 0)

	return s.store.FindByTimeRange(ctx, q.From, q.To, category, limit, offset)
}

// Retrieves the events summary for a time range
func (s *EventService) Summary(ctx context.Context, from, to time.Time) (*EventSummary, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	counts, err := s.store.CountByCategory(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	summary := &EventSummary{
		From:       from,
		To:         to,
		ByCategory: counts,
	}
	for _, row := range counts {
		summary.Total += row.Count
		switch row.Outcome {
		case ratelimit.Blocked.String():
			summary.Blocked += row.Count
		case ratelimit.Degraded.String():
			summary.Degraded += row.Count
		}
	}

	if summary.ByCategory == nil {
		summary.ByCategory = []models.CategoryCount{}
	}

	return summary, nil
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || from.After(to) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}
