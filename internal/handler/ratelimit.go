package handler

import (
	"net/http"

	"github.com/aman-churiwal/healthgate/internal/events"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Handles rate limiter admin endpoints
type RateLimitHandler struct {
	limiter  *ratelimit.Facade
	recorder *events.Recorder
}

// recorder may be nil when events are not persisted
func NewRateLimitHandler(limiter *ratelimit.Facade, recorder *events.Recorder) *RateLimitHandler {
	return &RateLimitHandler{
		limiter:  limiter,
		recorder: recorder,
	}
}

type categoryView struct {
	Key         string `json:"key"`
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"`
	WindowMs    int64  `json:"window_ms"`
	Namespace   string `json:"namespace"`
}

// Handles GET /admin/ratelimit/categories
func (h *RateLimitHandler) Categories(c *gin.Context) {
	reg := h.limiter.Registry()

	out := make([]categoryView, 0, len(ratelimit.Categories()))
	for _, cat := range ratelimit.Categories() {
		cfg := reg.Lookup(cat)
		out = append(out, categoryView{
			Key:         cfg.Key,
			MaxRequests: cfg.MaxRequests,
			Window:      cfg.Window.String(),
			WindowMs:    cfg.Window.Milliseconds(),
			Namespace:   cfg.Namespace,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"distributed": h.limiter.Distributed(),
		"categories":  out,
	})
}

// Returns the status of the backend circuit breaker
func (h *RateLimitHandler) BreakerStatus(c *gin.Context) {
	breaker := h.limiter.Breaker()
	if breaker == nil {
		c.JSON(http.StatusOK, gin.H{
			"distributed": false,
			"breaker":     nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"distributed": true,
		"breaker":     breaker.Metrics(),
	})
}

// Manually resets the backend circuit breaker
func (h *RateLimitHandler) ResetBreaker(c *gin.Context) {
	breaker := h.limiter.Breaker()
	if breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No circuit breaker: counters are kept in memory",
		})
		return
	}

	breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"breaker": breaker.Name(),
	})
}

// Handles GET /admin/ratelimit/store
func (h *RateLimitHandler) StoreStatus(c *gin.Context) {
	store := h.limiter.Store()

	resp := gin.H{
		"distributed": h.limiter.Distributed(),
		"keys":        store.Len(),
		"sweep_every": store.SweepEvery().String(),
	}
	if h.recorder != nil {
		resp["events"] = h.recorder.Stats()
	}

	c.JSON(http.StatusOK, resp)
}
