package execution

import (
	"context"
	"fmt"
)

const maxPublishAttempts = 3

// PublishNext publishes req with the channel's next generation.
// A concurrent writer taking the same generation causes a retry.
func PublishNext(ctx context.Context, s Store, req PublishRequest) (PublishResult, error) {
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		current, err := s.CurrentGeneration(ctx, req.ChannelID)
		if err != nil {
			return PublishResult{}, fmt.Errorf("failed to read generation: %w", err)
		}
		req.GenerationID = current + 1

		result, err := s.PublishAtomicReplace(ctx, req)
		if IsStale(err) {
			continue
		}
		return result, err
	}
	return PublishResult{}, fmt.Errorf("channel %s: gave up after %d attempts: %w", req.ChannelID, maxPublishAttempts, ErrStaleGeneration)
}

// Overrides returns the operator override entries overlapping the range
func Overrides(ctx context.Context, s Store, channelID string, startMs, endMs int64) ([]Entry, error) {
	entries, err := s.ReadWindowSnapshot(ctx, channelID, startMs, endMs)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.IsOperatorOverride {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntryAt returns the entry covering ms, if any
func EntryAt(ctx context.Context, s Store, channelID string, ms int64) (Entry, bool, error) {
	entries, err := s.ReadWindowSnapshot(ctx, channelID, ms, ms+1)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Contains(ms) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
