package playout

import (
	"context"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/renderer"
)

// Segment is an immutable playout instruction: play AssetPath from StartOffset until
// HardStop. A new instruction is always a new value.
type Segment struct {
	AssetPath   string        `json:"asset_path"`
	StartOffset time.Duration `json:"start_offset"`
	HardStop    time.Time     `json:"hard_stop"`
	BlockID     string        `json:"block_id"`
	Title       string        `json:"title"`
}

// IsZero reports whether s is the empty segment
func (s Segment) IsZero() bool {
	return s.AssetPath == "" && s.HardStop.IsZero() && s.BlockID == ""
}

// Same reports whether two values describe the same instruction
func (s Segment) Same(other Segment) bool {
	return s.AssetPath == other.AssetPath &&
		s.StartOffset == other.StartOffset &&
		s.HardStop.Equal(other.HardStop) &&
		s.BlockID == other.BlockID
}

// PreviewRequest converts the segment to the renderer's preload payload
func (s Segment) PreviewRequest() renderer.PreviewRequest {
	return renderer.PreviewRequest{
		AssetPath:     s.AssetPath,
		StartOffsetMs: s.StartOffset.Milliseconds(),
		HardStopMs:    s.HardStop.UnixMilli(),
	}
}

// SegmentLookup returns the segment following prev. A zero prev asks for the segment
// airing at now, with its start offset advanced to now.
type SegmentLookup func(ctx context.Context, prev Segment, now time.Time) (Segment, error)
