package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/hermes-playout/internal/director"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
)

const (
	streamSuffix      = ".ts"
	streamContentType = "video/mp2t"
)

// channelDirector defines the director operations used by the stream handlers
type channelDirector interface {
	Join(ctx context.Context, channelID, viewerID string) (*director.Session, error)
	Leave(channelID, viewerID string)
	Channels() []director.ChannelInfo
}

// ChannelListResponse represents the channel listing
type ChannelListResponse struct {
	Channels []director.ChannelInfo `json:"channels"`
}

// StreamHandler serves live channel streams
type StreamHandler struct {
	director channelDirector
}

// NewStreamHandler creates a new stream handler instance
func NewStreamHandler(d channelDirector) *StreamHandler {
	return &StreamHandler{director: d}
}

// StreamChannel handles GET /channel/:file where file is "<channel_id>.ts".
// The response is a continuous transport stream that ends when the client goes
// away or the channel stops.
func (h *StreamHandler) StreamChannel(c *gin.Context) {
	channelID, ok := strings.CutSuffix(c.Param("file"), streamSuffix)
	if !ok || channelID == "" {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Streams are served as /channel/<id>.ts",
		})
		return
	}

	session, err := h.director.Join(c.Request.Context(), channelID, c.Query("session_id"))
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("channel_id", channelID).
			Str("client_ip", c.ClientIP()).
			Msg("Viewer join failed")
		writeChannelError(c, err)
		return
	}
	defer h.director.Leave(channelID, session.ViewerID)

	logger.Log.Info().
		Str("channel_id", channelID).
		Str("viewer_id", session.ViewerID).
		Str("instance_id", session.InstanceID).
		Str("client_ip", c.ClientIP()).
		Msg("Viewer joined")

	c.Header("Content-Type", streamContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Instance-ID", session.InstanceID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	chunks := session.Viewer.Chunks()
	for {
		select {
		case <-ctx.Done():
			logger.Log.Debug().
				Str("channel_id", channelID).
				Str("viewer_id", session.ViewerID).
				Msg("Viewer disconnected")
			return
		case chunk, ok := <-chunks:
			if !ok {
				logger.Log.Info().
					Str("channel_id", channelID).
					Str("viewer_id", session.ViewerID).
					Str("reason", session.Viewer.Reason()).
					Msg("Viewer stream ended")
				return
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				logger.Log.Debug().
					Err(err).
					Str("channel_id", channelID).
					Str("viewer_id", session.ViewerID).
					Msg("Viewer write failed")
				return
			}
			c.Writer.Flush()
		}
	}
}

// ListChannels handles GET /channels
func (h *StreamHandler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, ChannelListResponse{Channels: h.director.Channels()})
}

// SetupStreamRoutes registers the viewer-facing routes on the root router
func SetupStreamRoutes(router gin.IRoutes, d channelDirector) {
	handler := NewStreamHandler(d)
	router.GET("/channel/:file", handler.StreamChannel)
	router.GET("/channels", handler.ListChannels)
}
