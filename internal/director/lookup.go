package director

import (
	"context"
	"fmt"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/playout"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
)

// ScheduleSource resolves already-compiled blocks
type ScheduleSource interface {
	ProgramAt(channelID string, t time.Time) (schedule.Block, error)
	Channels() []schedule.ChannelInfo
}

// NewSegmentLookup resolves the segment on air at an instant. The execution window
// wins where it has an entry so operator overrides reach the renderer; otherwise the
// compiled block is used. The first segment starts mid-item at the join offset,
// later ones start where the previous one stopped.
func NewSegmentLookup(channelID string, sched ScheduleSource, store execution.Store) playout.SegmentLookup {
	return func(ctx context.Context, prev playout.Segment, now time.Time) (playout.Segment, error) {
		at := now
		if !prev.IsZero() {
			at = prev.HardStop
		}

		if store != nil {
			entry, ok, err := execution.EntryAt(ctx, store, channelID, at.UnixMilli())
			if err != nil {
				logger.Log.Warn().Err(err).Str("channel_id", channelID).Msg("Execution window read failed, using schedule")
			} else if ok {
				return segmentFromEntry(entry, at), nil
			}
		}

		block, err := sched.ProgramAt(channelID, at)
		if err != nil {
			return playout.Segment{}, err
		}
		item, ok := block.ItemAt(at)
		if !ok {
			return playout.Segment{}, fmt.Errorf("block %s has no item at %s", block.ID, at.Format(time.RFC3339))
		}
		return segmentFromItem(item, at), nil
	}
}

// JoinOffset returns how far into an item's asset playback should start at t
func JoinOffset(item schedule.Item, t time.Time) time.Duration {
	offset := item.Offset
	if t.After(item.Start) {
		offset += t.Sub(item.Start)
	}
	return offset
}

func segmentFromItem(item schedule.Item, at time.Time) playout.Segment {
	return playout.Segment{
		AssetPath:   item.AssetPath,
		StartOffset: JoinOffset(item, at),
		HardStop:    item.End,
		BlockID:     item.BlockID,
		Title:       item.Title,
	}
}

func segmentFromEntry(e execution.Entry, at time.Time) playout.Segment {
	offset := time.Duration(e.Segment.AssetOffsetMs) * time.Millisecond
	if elapsed := at.UnixMilli() - e.StartMs; elapsed > 0 {
		offset += time.Duration(elapsed) * time.Millisecond
	}
	return playout.Segment{
		AssetPath:   e.Segment.AssetPath,
		StartOffset: offset,
		HardStop:    time.UnixMilli(e.EndMs).UTC(),
		BlockID:     e.BlockID,
		Title:       e.Segment.Title,
	}
}
