package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/healthgate/internal/models"
	"github.com/aman-churiwal/healthgate/internal/storage"
)

type RateLimitEventRepository struct {
	db *storage.Postgres
}

func NewRateLimitEventRepository(db *storage.Postgres) *RateLimitEventRepository {
	return &RateLimitEventRepository{db: db}
}

// Inserts multiple events in one statement
func (r *RateLimitEventRepository) CreateBatch(ctx context.Context, events []*models.RateLimitEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves events within a time range, newest first. An empty category
// matches every category.
func (r *RateLimitEventRepository) FindByTimeRange(ctx context.Context, from, to time.Time, category string, limit, offset int) ([]models.RateLimitEvent, error) {
	var events []models.RateLimitEvent

	q := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if category != "" {
		q = q.Where("category = ?", category)
	}

	err := q.Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

// Counts events per category and outcome in a time range
func (r *RateLimitEventRepository) CountByCategory(ctx context.Context, from, to time.Time) ([]models.CategoryCount, error) {
	var counts []models.CategoryCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEvent{}).
		Select("category, outcome, COUNT(*) AS count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("category, outcome").
		Order("count DESC").
		Scan(&counts).Error

	return counts, err
}

// Deletes events older than the specified time
func (r *RateLimitEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RateLimitEvent{})

	return result.RowsAffected, result.Error
}
