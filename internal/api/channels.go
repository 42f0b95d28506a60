package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/horizon"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/models"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
)

const (
	defaultEPGSpan   = 6 * time.Hour
	maxEPGSpan       = 48 * time.Hour
	defaultListLimit = 50
	maxListLimit     = 500
	overrideBlockTag = "override"
)

// channelCatalog reports which channels the lineup defines
type channelCatalog interface {
	ChannelIDs() []string
}

// asRunLister reads the as-run log
type asRunLister interface {
	ListByChannel(ctx context.Context, channelID string, limit int) ([]*models.AsRunEvent, error)
}

// HorizonReporter exposes a channel's transmission log extension state
type HorizonReporter interface {
	Status() horizon.Status
}

// EPGEntry is one row of the execution window
type EPGEntry struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	BlockID       string    `json:"block_id"`
	Title         string    `json:"title"`
	Kind          string    `json:"kind"`
	AssetPath     string    `json:"asset_path"`
	AssetOffsetMs int64     `json:"asset_offset_ms"`
	EventID       string    `json:"event_id,omitempty"`
	Generation    int64     `json:"generation_id"`
	Override      bool      `json:"operator_override"`
}

// EPGResponse is a consistent snapshot of a channel's execution window.
// Generation is the highest generation among the returned entries, 0 when empty.
type EPGResponse struct {
	ChannelID  string     `json:"channel_id"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Generation int64      `json:"generation_id"`
	Entries    []EPGEntry `json:"entries"`
}

// OverrideRequest represents an operator override of a time range
type OverrideRequest struct {
	Start         *time.Time `json:"start" binding:"required"`
	End           *time.Time `json:"end" binding:"required"`
	AssetPath     string     `json:"asset_path" binding:"required"`
	AssetOffsetMs int64      `json:"asset_offset_ms" binding:"gte=0"`
	Title         string     `json:"title"`
	Kind          string     `json:"kind"`
}

// PublishListResponse represents the publish journal of a channel
type PublishListResponse struct {
	Publishes []execution.PublishRecord `json:"publishes"`
}

// AsRunListResponse represents the as-run log of a channel
type AsRunListResponse struct {
	Events []*models.AsRunEvent `json:"events"`
}

// ChannelHandler serves the execution window, overrides and logs of each channel
type ChannelHandler struct {
	catalog channelCatalog
	store   execution.Store
	asRun   asRunLister
	horizon map[string]HorizonReporter
	clock   clock.MasterClock
}

// ChannelHandlerDeps are the collaborators of a ChannelHandler. AsRun and Horizon are optional.
type ChannelHandlerDeps struct {
	Catalog channelCatalog
	Store   execution.Store
	AsRun   asRunLister
	Horizon map[string]HorizonReporter
	Clock   clock.MasterClock
}

// NewChannelHandler creates a new channel handler instance
func NewChannelHandler(deps ChannelHandlerDeps) *ChannelHandler {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	return &ChannelHandler{
		catalog: deps.Catalog,
		store:   deps.Store,
		asRun:   deps.AsRun,
		horizon: deps.Horizon,
		clock:   deps.Clock,
	}
}

// GetEPG handles GET /api/channels/:id/epg?start=&end=
func (h *ChannelHandler) GetEPG(c *gin.Context) {
	channelID, ok := h.channelParam(c)
	if !ok {
		return
	}

	start, end, err := h.parseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_window",
			Message: err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	entries, err := h.store.ReadWindowSnapshot(ctx, channelID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		logger.Log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to read execution window")
		writeChannelError(c, err)
		return
	}

	resp := EPGResponse{
		ChannelID: channelID,
		Start:     start,
		End:       end,
		Entries:   make([]EPGEntry, 0, len(entries)),
	}
	for _, e := range entries {
		if e.GenerationID > resp.Generation {
			resp.Generation = e.GenerationID
		}
		resp.Entries = append(resp.Entries, EPGEntry{
			Start:         clock.FromMilli(e.StartMs),
			End:           clock.FromMilli(e.EndMs),
			BlockID:       e.BlockID,
			Title:         e.Segment.Title,
			Kind:          e.Segment.Kind,
			AssetPath:     e.Segment.AssetPath,
			AssetOffsetMs: e.Segment.AssetOffsetMs,
			EventID:       e.Segment.EventID,
			Generation:    e.GenerationID,
			Override:      e.IsOperatorOverride,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// CreateOverride handles POST /api/channels/:id/overrides
func (h *ChannelHandler) CreateOverride(c *gin.Context) {
	channelID, ok := h.channelParam(c)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}
	if !req.End.After(*req.Start) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "end must be after start",
		})
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = schedule.KindProgram
	}
	startMs, endMs := req.Start.UnixMilli(), req.End.UnixMilli()
	entry := execution.Entry{
		ChannelID: channelID,
		BlockID:   fmt.Sprintf("%s-%s", overrideBlockTag, uuid.NewString()),
		StartMs:   startMs,
		EndMs:     endMs,
		Segment: execution.SegmentPayload{
			AssetPath:     req.AssetPath,
			AssetOffsetMs: req.AssetOffsetMs,
			Title:         req.Title,
			Kind:          kind,
			EventID:       uuid.NewString(),
		},
	}

	result, err := execution.PublishNext(c.Request.Context(), h.store, execution.PublishRequest{
		ChannelID:        channelID,
		RangeStartMs:     startMs,
		RangeEndMs:       endMs,
		Entries:          []execution.Entry{entry},
		ReasonCode:       execution.ReasonOperator,
		OperatorOverride: true,
	})
	if err != nil {
		logger.Log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to publish override")
		writeChannelError(c, err)
		return
	}

	logger.Log.Info().
		Str("channel_id", channelID).
		Int64("generation_id", result.GenerationID).
		Time("start", *req.Start).
		Time("end", *req.End).
		Str("asset", req.AssetPath).
		Msg("Operator override published")
	c.JSON(http.StatusCreated, result)
}

// ListPublishes handles GET /api/channels/:id/publishes?limit=
func (h *ChannelHandler) ListPublishes(c *gin.Context) {
	channelID, ok := h.channelParam(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	records, err := h.store.History(c.Request.Context(), channelID, limit)
	if err != nil {
		writeChannelError(c, err)
		return
	}
	if records == nil {
		records = []execution.PublishRecord{}
	}
	c.JSON(http.StatusOK, PublishListResponse{Publishes: records})
}

// ListAsRun handles GET /api/channels/:id/asrun?limit=
func (h *ChannelHandler) ListAsRun(c *gin.Context) {
	channelID, ok := h.channelParam(c)
	if !ok {
		return
	}
	if h.asRun == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_available",
			Message: "As-run log is not configured",
		})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	events, err := h.asRun.ListByChannel(c.Request.Context(), channelID, limit)
	if err != nil {
		logger.Log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to list as-run events")
		writeChannelError(c, err)
		return
	}
	if events == nil {
		events = []*models.AsRunEvent{}
	}
	c.JSON(http.StatusOK, AsRunListResponse{Events: events})
}

// GetHorizon handles GET /api/channels/:id/horizon
func (h *ChannelHandler) GetHorizon(c *gin.Context) {
	channelID, ok := h.channelParam(c)
	if !ok {
		return
	}
	reporter, ok := h.horizon[channelID]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_available",
			Message: "No horizon daemon runs for this channel",
		})
		return
	}
	c.JSON(http.StatusOK, reporter.Status())
}

// channelParam reads :id and answers 404 for channels outside the lineup
func (h *ChannelHandler) channelParam(c *gin.Context) (string, bool) {
	channelID := c.Param("id")
	for _, id := range h.catalog.ChannelIDs() {
		if id == channelID {
			return channelID, true
		}
	}
	writeChannelError(c, fmt.Errorf("channel %s: %w", channelID, schedule.ErrChannelNotFound))
	return "", false
}

// parseWindow reads an RFC3339 window, defaulting to the next six hours
func (h *ChannelHandler) parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start := h.clock.Now().UTC()
	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
		}
		start = t.UTC()
	}

	end := start.Add(defaultEPGSpan)
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
		end = t.UTC()
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	if end.Sub(start) > maxEPGSpan {
		return time.Time{}, time.Time{}, fmt.Errorf("window may not exceed %s", maxEPGSpan)
	}
	return start, end, nil
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_limit",
			Message: "limit must be a positive integer",
		})
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// SetupChannelRoutes registers channel REST routes
func SetupChannelRoutes(apiGroup *gin.RouterGroup, handler *ChannelHandler) {
	channels := apiGroup.Group("/channels/:id")
	channels.GET("/epg", handler.GetEPG)
	channels.POST("/overrides", handler.CreateOverride)
	channels.GET("/publishes", handler.ListPublishes)
	channels.GET("/asrun", handler.ListAsRun)
	channels.GET("/horizon", handler.GetHorizon)
}
