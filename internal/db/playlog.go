package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stwalsh4118/hermes-playout/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// existenceBatchSize bounds the IN list of a single existence query.
// A pass over more blocks than this issues one query per batch.
const existenceBatchSize = 500

// PlaylogRepository handles database operations for the transmission log
type PlaylogRepository struct {
	db *DB
}

// NewPlaylogRepository creates a new playlog repository
func NewPlaylogRepository(db *DB) *PlaylogRepository {
	return &PlaylogRepository{db: db}
}

// ExistingBlockIDs returns the subset of blockIDs that already have rows for the channel
func (r *PlaylogRepository) ExistingBlockIDs(ctx context.Context, channelID string, blockIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(blockIDs))
	for start := 0; start < len(blockIDs); start += existenceBatchSize {
		end := start + existenceBatchSize
		if end > len(blockIDs) {
			end = len(blockIDs)
		}

		var found []string
		result := r.db.WithContext(ctx).
			Model(&models.PlaylogEvent{}).
			Where("channel_id = ? AND block_id IN ?", channelID, blockIDs[start:end]).
			Distinct().
			Pluck("block_id", &found)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to query existing blocks: %w", MapGormError(result.Error))
		}
		for _, id := range found {
			existing[id] = true
		}
	}
	return existing, nil
}

// CoversTime reports whether any row of the channel covers ms
func (r *PlaylogRepository) CoversTime(ctx context.Context, channelID string, ms int64) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&models.PlaylogEvent{}).
		Where("channel_id = ? AND start_ms <= ? AND end_ms > ?", channelID, ms, ms).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check coverage: %w", MapGormError(result.Error))
	}
	return count > 0, nil
}

// InsertBlock writes every event of one block in a single transaction.
// Rows that already exist are left untouched.
func (r *PlaylogRepository) InsertBlock(ctx context.Context, events []*models.PlaylogEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(events)
		if result.Error != nil {
			return MapGormError(result.Error)
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert block: %w", err)
	}
	return inserted, nil
}

// FarthestEnd returns the latest end time written for the channel, or 0
func (r *PlaylogRepository) FarthestEnd(ctx context.Context, channelID string) (int64, error) {
	var end sql.NullInt64
	row := r.db.WithContext(ctx).
		Model(&models.PlaylogEvent{}).
		Where("channel_id = ?", channelID).
		Select("MAX(end_ms)").
		Row()
	if err := row.Scan(&end); err != nil {
		return 0, fmt.Errorf("failed to read farthest end: %w", MapGormError(err))
	}
	return end.Int64, nil
}

// ProgrammingDays lists the programming days present for the channel in ascending order
func (r *PlaylogRepository) ProgrammingDays(ctx context.Context, channelID string) ([]string, error) {
	var days []string
	result := r.db.WithContext(ctx).
		Model(&models.PlaylogEvent{}).
		Where("channel_id = ?", channelID).
		Distinct().
		Order("programming_day ASC").
		Pluck("programming_day", &days)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list programming days: %w", MapGormError(result.Error))
	}
	return days, nil
}

// EventsForDay returns the events of one programming day in air order
func (r *PlaylogRepository) EventsForDay(ctx context.Context, channelID, day string) ([]*models.PlaylogEvent, error) {
	var events []*models.PlaylogEvent
	result := r.db.WithContext(ctx).
		Where("channel_id = ? AND programming_day = ?", channelID, day).
		Order("start_ms ASC, idx ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list events for day: %w", MapGormError(result.Error))
	}
	return events, nil
}

// EventsInRange returns events overlapping [startMs, endMs) in air order
func (r *PlaylogRepository) EventsInRange(ctx context.Context, channelID string, startMs, endMs int64) ([]*models.PlaylogEvent, error) {
	var events []*models.PlaylogEvent
	result := r.db.WithContext(ctx).
		Where("channel_id = ? AND start_ms < ? AND end_ms > ?", channelID, endMs, startMs).
		Order("start_ms ASC, idx ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list events in range: %w", MapGormError(result.Error))
	}
	return events, nil
}

// Channels lists channel ids with at least one row
func (r *PlaylogRepository) Channels(ctx context.Context) ([]string, error) {
	var ids []string
	result := r.db.WithContext(ctx).
		Model(&models.PlaylogEvent{}).
		Distinct().
		Order("channel_id ASC").
		Pluck("channel_id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list channels: %w", MapGormError(result.Error))
	}
	return ids, nil
}
