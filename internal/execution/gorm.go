package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/db"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/models"
	"gorm.io/gorm"
)

// GormStore is a Store persisted through gorm. Every publish runs in one transaction.
type GormStore struct {
	db      *db.DB
	clock   clock.MasterClock
	metrics *metrics.Metrics
}

// NewGormStore creates a store on top of an open database
func NewGormStore(database *db.DB, clk clock.MasterClock, m *metrics.Metrics) *GormStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &GormStore{db: database, clock: clk, metrics: m}
}

// PublishAtomicReplace replaces [RangeStartMs, RangeEndMs) with req.Entries
func (s *GormStore) PublishAtomicReplace(ctx context.Context, req PublishRequest) (PublishResult, error) {
	incoming, err := normalize(req)
	if err != nil {
		s.metrics.IncPublish(req.ChannelID, publishOutcome(err))
		return PublishResult{}, err
	}

	var result PublishResult
	err = s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		current, err := highestGeneration(tx, req.ChannelID)
		if err != nil {
			return err
		}

		var touching []models.ExecutionEntryRow
		if err := tx.Where("channel_id = ? AND start_ms < ? AND end_ms > ?", req.ChannelID, req.RangeEndMs, req.RangeStartMs).
			Find(&touching).Error; err != nil {
			return db.MapGormError(err)
		}
		existing := make([]Entry, len(touching))
		for i, row := range touching {
			existing[i] = entryFromRow(row)
		}
		if g := maxGenerationTouching(existing, req.RangeStartMs, req.RangeEndMs); g > current {
			current = g
		}
		if req.GenerationID <= current {
			return &StaleGenerationError{ChannelID: req.ChannelID, Generation: req.GenerationID, Current: current}
		}

		next, res := replaceRange(existing, req, incoming)
		result = res

		if len(touching) > 0 {
			ids := make([]uint, len(touching))
			for i, row := range touching {
				ids[i] = row.ID
			}
			if err := tx.Where("id IN ?", ids).Delete(&models.ExecutionEntryRow{}).Error; err != nil {
				return db.MapGormError(err)
			}
		}
		if len(next) > 0 {
			rows := make([]models.ExecutionEntryRow, len(next))
			for i, e := range next {
				rows[i] = rowFromEntry(e)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return db.MapGormError(err)
			}
		}

		journal := models.ExecutionPublishRow{
			ChannelID:        req.ChannelID,
			GenerationID:     req.GenerationID,
			ReasonCode:       req.ReasonCode,
			RangeStartMs:     req.RangeStartMs,
			RangeEndMs:       req.RangeEndMs,
			OperatorOverride: req.OperatorOverride,
			EntryCount:       len(incoming),
			PublishedAt:      s.clock.Now(),
		}
		if err := tx.Create(&journal).Error; err != nil {
			// Another writer committed this generation first
			if mapped := db.MapGormError(err); db.IsDuplicateOn(mapped, journal.TableName()) {
				return &StaleGenerationError{ChannelID: req.ChannelID, Generation: req.GenerationID, Current: req.GenerationID}
			}
			return db.MapGormError(err)
		}
		return nil
	})
	if err != nil {
		var stale *StaleGenerationError
		if errors.As(err, &stale) {
			s.metrics.IncPublish(req.ChannelID, "stale")
			logger.Log.Warn().
				Str("channel_id", req.ChannelID).
				Int64("generation", req.GenerationID).
				Int64("current_generation", stale.Current).
				Str("reason", req.ReasonCode).
				Msg("Rejected stale publish")
			return PublishResult{}, stale
		}
		s.metrics.IncPublish(req.ChannelID, "error")
		return PublishResult{}, fmt.Errorf("failed to publish execution window: %w", err)
	}

	s.metrics.IncPublish(req.ChannelID, "accepted")
	return result, nil
}

// ReadWindowSnapshot returns every entry overlapping [startMs, endMs) in air order
func (s *GormStore) ReadWindowSnapshot(ctx context.Context, channelID string, startMs, endMs int64) ([]Entry, error) {
	if endMs <= startMs {
		return nil, ErrInvalidRange
	}

	var rows []models.ExecutionEntryRow
	result := s.db.WithContext(ctx).
		Where("channel_id = ? AND start_ms < ? AND end_ms > ?", channelID, endMs, startMs).
		Order("start_ms ASC, idx ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to read execution window: %w", db.MapGormError(result.Error))
	}

	out := make([]Entry, len(rows))
	for i, row := range rows {
		out[i] = entryFromRow(row)
	}
	return out, nil
}

// CurrentGeneration returns the highest generation ever accepted for the channel
func (s *GormStore) CurrentGeneration(ctx context.Context, channelID string) (int64, error) {
	gen, err := highestGeneration(s.db.WithContext(ctx), channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return gen, nil
}

// History returns the most recent publishes, newest first
func (s *GormStore) History(ctx context.Context, channelID string, limit int) ([]PublishRecord, error) {
	var rows []models.ExecutionPublishRow
	query := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("generation_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read publish history: %w", db.MapGormError(err))
	}

	out := make([]PublishRecord, len(rows))
	for i, row := range rows {
		out[i] = PublishRecord{
			ChannelID:        row.ChannelID,
			GenerationID:     row.GenerationID,
			ReasonCode:       row.ReasonCode,
			RangeStartMs:     row.RangeStartMs,
			RangeEndMs:       row.RangeEndMs,
			OperatorOverride: row.OperatorOverride,
			EntryCount:       row.EntryCount,
			PublishedAt:      row.PublishedAt,
		}
	}
	return out, nil
}

func highestGeneration(tx *gorm.DB, channelID string) (int64, error) {
	var gen int64
	row := tx.Model(&models.ExecutionPublishRow{}).
		Where("channel_id = ?", channelID).
		Select("COALESCE(MAX(generation_id), 0)").
		Row()
	if err := row.Scan(&gen); err != nil {
		return 0, db.MapGormError(err)
	}
	return gen, nil
}

func entryFromRow(row models.ExecutionEntryRow) Entry {
	return Entry{
		ChannelID: row.ChannelID,
		BlockID:   row.BlockID,
		Index:     row.Index,
		StartMs:   row.StartMs,
		EndMs:     row.EndMs,
		Segment: SegmentPayload{
			AssetPath:     row.AssetPath,
			AssetOffsetMs: row.AssetOffsetMs,
			Title:         row.Title,
			Kind:          row.Kind,
			EventID:       row.EventID,
		},
		ProgrammingDay:     row.ProgrammingDay,
		GenerationID:       row.GenerationID,
		IsOperatorOverride: row.IsOperatorOverride,
	}
}

func rowFromEntry(e Entry) models.ExecutionEntryRow {
	return models.ExecutionEntryRow{
		ChannelID:          e.ChannelID,
		BlockID:            e.BlockID,
		Index:              e.Index,
		StartMs:            e.StartMs,
		EndMs:              e.EndMs,
		AssetPath:          e.Segment.AssetPath,
		AssetOffsetMs:      e.Segment.AssetOffsetMs,
		Title:              e.Segment.Title,
		Kind:               e.Segment.Kind,
		EventID:            e.Segment.EventID,
		ProgrammingDay:     e.ProgrammingDay,
		GenerationID:       e.GenerationID,
		IsOperatorOverride: e.IsOperatorOverride,
	}
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
