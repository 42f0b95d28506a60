// Package middleware provides HTTP middleware functions for request logging and processing.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
)

// streamPathPrefix marks long-lived viewer connections, logged at debug on completion
const streamPathPrefix = "/channel/"

// RequestLogger returns a Gin middleware for logging HTTP requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)

		event := logger.Log.Info()
		if strings.HasPrefix(path, streamPathPrefix) {
			event = logger.Log.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")

		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}

// RequestMetrics returns a Gin middleware counting requests by method and status
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.ObserveRequest(c.Request.Method, c.Writer.Status())
	}
}
