package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateLimitEvent is a persisted blocked or degraded rate limit decision.
type RateLimitEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	Category    string    `gorm:"index;not null" json:"category"`
	Identity    string    `gorm:"index" json:"identity"`
	Outcome     string    `gorm:"not null" json:"outcome"` // "blocked" or "degraded"
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	MaxRequests int       `json:"limit"`
	RetryAfter  int64     `json:"retry_after"`
	RequestID   string    `json:"request_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (e *RateLimitEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (RateLimitEvent) TableName() string {
	return "rate_limit_events"
}

// CategoryCount is one row of an events summary.
type CategoryCount struct {
	Category string `json:"category"`
	Outcome  string `json:"outcome"`
	Count    int64  `json:"count"`
}
