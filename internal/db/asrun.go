package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stwalsh4118/hermes-playout/internal/models"
	"github.com/stwalsh4118/hermes-playout/internal/playout"
)

// AsRunRepository handles database operations for the as-run log
type AsRunRepository struct {
	db *DB
}

// NewAsRunRepository creates a new as-run repository
func NewAsRunRepository(db *DB) *AsRunRepository {
	return &AsRunRepository{db: db}
}

// Create inserts an as-run event
func (r *AsRunRepository) Create(ctx context.Context, event *models.AsRunEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).Create(event)
	if result.Error != nil {
		return fmt.Errorf("failed to create as-run event: %w", MapGormError(result.Error))
	}
	return nil
}

// RecordAsRun persists a record reported by a channel manager
func (r *AsRunRepository) RecordAsRun(ctx context.Context, rec playout.AsRunRecord) error {
	return r.Create(ctx, &models.AsRunEvent{
		ChannelID:     rec.ChannelID,
		InstanceID:    rec.InstanceID,
		BlockID:       rec.BlockID,
		AssetPath:     rec.AssetPath,
		Title:         rec.Title,
		StartOffsetMs: rec.StartOffset.Milliseconds(),
		BoundaryMs:    rec.Boundary.UnixMilli(),
		HardStopMs:    rec.HardStop.UnixMilli(),
		Status:        rec.Status,
		LeadTimeMs:    rec.LeadTime.Milliseconds(),
		Bootstrap:     rec.Bootstrap,
		Violation:     rec.Violation,
	})
}

// ListByChannel returns the newest as-run events of a channel
func (r *AsRunRepository) ListByChannel(ctx context.Context, channelID string, limit int) ([]*models.AsRunEvent, error) {
	var events []*models.AsRunEvent
	query := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("boundary_ms DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&events); result.Error != nil {
		return nil, fmt.Errorf("failed to list as-run events: %w", MapGormError(result.Error))
	}
	return events, nil
}

var _ playout.AsRunRecorder = (*AsRunRepository)(nil)
