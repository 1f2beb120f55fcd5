package handler

import (
	"net/http"

	"github.com/aman-churiwal/healthgate/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Accept stands in for a business handler behind a rate limit. It only
// acknowledges the request; the work itself lives in other services.
func Accept(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{
			"operation":  operation,
			"status":     "accepted",
			"request_id": c.GetString(middleware.ContextRequestID),
			"user_id":    c.GetString(middleware.ContextUserID),
		})
	}
}
