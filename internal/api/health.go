package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status       string                 `json:"status"`
	Database     string                 `json:"database"`
	LiveChannels []string               `json:"live_channels"`
	Time         string                 `json:"time"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// databaseChecker pings the database
type databaseChecker interface {
	Health(ctx context.Context) error
}

// liveChannelLister reports which channels are on air
type liveChannelLister interface {
	LiveChannels() []string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db       databaseChecker
	channels liveChannelLister
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(database databaseChecker, channels liveChannelLister) *HealthHandler {
	return &HealthHandler{db: database, channels: channels}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:       "ok",
		LiveChannels: h.channels.LiveChannels(),
		Time:         time.Now().UTC().Format(time.RFC3339),
		Details:      make(map[string]interface{}),
	}

	// Check database connectivity
	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Database = "healthy"
	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, database databaseChecker, channels liveChannelLister) {
	handler := NewHealthHandler(database, channels)
	apiGroup.GET("/health", handler.Check)
}
