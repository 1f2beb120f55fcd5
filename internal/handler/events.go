package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/aman-churiwal/healthgate/internal/service"
	"github.com/gin-gonic/gin"
)

type EventsHandler struct {
	service *service.EventService
}

func NewEventsHandler(service *service.EventService) *EventsHandler {
	return &EventsHandler{service: service}
}

// Handles GET /admin/ratelimit/events
func (h *EventsHandler) List(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	evs, err := h.service.List(c.Request.Context(), service.EventQuery{
		From:     from,
		To:       to,
		Category: c.Query("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"count":  len(evs),
	})
}

// Handles GET /admin/ratelimit/summary
func (h *EventsHandler) Summary(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ratelimit.ErrUnknownCategory), errors.Is(err, service.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// Accepts RFC3339 or a Unix timestamp
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if ts, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return time.Unix(ts, 0), nil
	}
	return time.Time{}, err
}
