// Package api provides HTTP handlers for viewer streams and the channel REST endpoints.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/hermes-playout/internal/director"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// retryAfterSeconds is sent with 503 responses so players back off briefly
const retryAfterSeconds = "1"

// writeChannelError maps domain errors to HTTP responses
func writeChannelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "channel_not_found",
			Message: "Channel not found",
		})
	case errors.Is(err, director.ErrAdmissionRejected):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "admission_rejected",
			Message: "Too many channels starting, please retry in a moment",
		})
	case errors.Is(err, director.ErrChannelUnavailable),
		errors.Is(err, director.ErrDirectorStopped),
		errors.Is(err, schedule.ErrChannelNotStarted),
		errors.Is(err, schedule.ErrScheduleNotLoaded):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "channel_unavailable",
			Message: "Channel is unavailable, please retry in a moment",
		})
	case errors.Is(err, execution.ErrStaleGeneration):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "stale_generation",
			Message: err.Error(),
		})
	case errors.Is(err, execution.ErrInvalidRange),
		errors.Is(err, execution.ErrEntryOutsideRange),
		errors.Is(err, execution.ErrOverlappingEntries),
		errors.Is(err, execution.ErrMissingChannel):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_publish",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Internal server error",
		})
	}
}
