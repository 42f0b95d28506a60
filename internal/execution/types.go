// Package execution holds resolved execution entries for each channel and
// publishes replacements for a time range atomically, stamped with a
// per-channel generation id.
package execution

import (
	"context"
	"sort"
	"time"
)

// Publish reason codes
const (
	ReasonHorizonExtend = "horizon_extend"
	ReasonHorizonRepair = "horizon_repair"
	ReasonOperator      = "operator_override"
)

// SegmentPayload is the playable part of an entry
type SegmentPayload struct {
	AssetPath     string `json:"asset_path"`
	AssetOffsetMs int64  `json:"asset_offset_ms"`
	Title         string `json:"title"`
	Kind          string `json:"kind"`
	EventID       string `json:"event_id"`
}

// Entry is one resolved item of a channel's execution window
type Entry struct {
	ChannelID          string         `json:"channel_id"`
	BlockID            string         `json:"block_id"`
	Index              int            `json:"index"`
	StartMs            int64          `json:"start_ms"`
	EndMs              int64          `json:"end_ms"`
	Segment            SegmentPayload `json:"segment"`
	ProgrammingDay     string         `json:"programming_day"`
	GenerationID       int64          `json:"generation_id"`
	IsOperatorOverride bool           `json:"is_operator_override"`
}

// Overlaps reports whether the entry intersects [startMs, endMs)
func (e Entry) Overlaps(startMs, endMs int64) bool {
	return e.StartMs < endMs && e.EndMs > startMs
}

// Contains reports whether ms falls inside the entry
func (e Entry) Contains(ms int64) bool {
	return e.StartMs <= ms && ms < e.EndMs
}

// PublishRequest replaces the range [RangeStartMs, RangeEndMs) of a channel
type PublishRequest struct {
	ChannelID        string
	RangeStartMs     int64
	RangeEndMs       int64
	Entries          []Entry
	GenerationID     int64
	ReasonCode       string
	OperatorOverride bool
}

// PublishResult summarizes an accepted publish
type PublishResult struct {
	ChannelID    string `json:"channel_id"`
	GenerationID int64  `json:"generation_id"`
	Removed      int    `json:"removed"`
	Trimmed      int    `json:"trimmed"`
	Inserted     int    `json:"inserted"`
}

// PublishRecord is one row of the publish journal
type PublishRecord struct {
	ChannelID        string    `json:"channel_id"`
	GenerationID     int64     `json:"generation_id"`
	ReasonCode       string    `json:"reason_code"`
	RangeStartMs     int64     `json:"range_start_ms"`
	RangeEndMs       int64     `json:"range_end_ms"`
	OperatorOverride bool      `json:"operator_override"`
	EntryCount       int       `json:"entry_count"`
	PublishedAt      time.Time `json:"published_at"`
}

// Store is the narrow interface every execution window backing implements
type Store interface {
	PublishAtomicReplace(ctx context.Context, req PublishRequest) (PublishResult, error)
	ReadWindowSnapshot(ctx context.Context, channelID string, startMs, endMs int64) ([]Entry, error)
	CurrentGeneration(ctx context.Context, channelID string) (int64, error)
	History(ctx context.Context, channelID string, limit int) ([]PublishRecord, error)
}

// normalize validates a request and returns its entries stamped and sorted
func normalize(req PublishRequest) ([]Entry, error) {
	if req.ChannelID == "" {
		return nil, ErrMissingChannel
	}
	if req.RangeEndMs <= req.RangeStartMs {
		return nil, ErrInvalidRange
	}
	if req.GenerationID <= 0 {
		return nil, &StaleGenerationError{ChannelID: req.ChannelID, Generation: req.GenerationID}
	}

	entries := make([]Entry, len(req.Entries))
	for i, e := range req.Entries {
		if e.ChannelID != "" && e.ChannelID != req.ChannelID {
			return nil, &OutsideRangeError{Entry: e, RangeStartMs: req.RangeStartMs, RangeEndMs: req.RangeEndMs}
		}
		if e.EndMs <= e.StartMs || e.StartMs < req.RangeStartMs || e.EndMs > req.RangeEndMs {
			return nil, &OutsideRangeError{Entry: e, RangeStartMs: req.RangeStartMs, RangeEndMs: req.RangeEndMs}
		}
		e.ChannelID = req.ChannelID
		e.GenerationID = req.GenerationID
		e.IsOperatorOverride = req.OperatorOverride
		entries[i] = e
	}
	sortEntries(entries)

	for i := 1; i < len(entries); i++ {
		if entries[i].StartMs < entries[i-1].EndMs {
			return nil, ErrOverlappingEntries
		}
	}
	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StartMs != entries[j].StartMs {
			return entries[i].StartMs < entries[j].StartMs
		}
		return entries[i].Index < entries[j].Index
	})
}

// splitAround removes the part of e inside [startMs, endMs) and returns what
// is left on either side. Remainders keep their generation and override flag.
func splitAround(e Entry, startMs, endMs int64) []Entry {
	var out []Entry
	if e.StartMs < startMs {
		left := e
		left.EndMs = startMs
		out = append(out, left)
	}
	if e.EndMs > endMs {
		right := e
		right.StartMs = endMs
		right.Segment.AssetOffsetMs += endMs - e.StartMs
		out = append(out, right)
	}
	return out
}

// replaceRange applies a validated publish to a sorted slice and returns a new slice
func replaceRange(current []Entry, req PublishRequest, incoming []Entry) ([]Entry, PublishResult) {
	result := PublishResult{ChannelID: req.ChannelID, GenerationID: req.GenerationID, Inserted: len(incoming)}

	next := make([]Entry, 0, len(current)+len(incoming))
	for _, e := range current {
		if !e.Overlaps(req.RangeStartMs, req.RangeEndMs) {
			next = append(next, e)
			continue
		}
		rest := splitAround(e, req.RangeStartMs, req.RangeEndMs)
		if len(rest) == 0 {
			result.Removed++
		} else {
			result.Trimmed++
		}
		next = append(next, rest...)
	}
	next = append(next, incoming...)
	sortEntries(next)
	return next, result
}

// maxGenerationTouching returns the highest generation among entries overlapping the range
func maxGenerationTouching(entries []Entry, startMs, endMs int64) int64 {
	var max int64
	for _, e := range entries {
		if e.Overlaps(startMs, endMs) && e.GenerationID > max {
			max = e.GenerationID
		}
	}
	return max
}
