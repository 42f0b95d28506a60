package execution

import (
	"context"
	"sync"

	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
)

const defaultHistoryLimit = 256

// channelWindow is the per-channel slice of the store.
// entries is never modified in place; publishes swap in a new slice.
type channelWindow struct {
	mu      sync.RWMutex
	entries []Entry
	high    int64
	history []PublishRecord
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu           sync.Mutex
	channels     map[string]*channelWindow
	clock        clock.MasterClock
	metrics      *metrics.Metrics
	historyLimit int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clk clock.MasterClock, m *metrics.Metrics) *MemoryStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryStore{
		channels:     make(map[string]*channelWindow),
		clock:        clk,
		metrics:      m,
		historyLimit: defaultHistoryLimit,
	}
}

func (s *MemoryStore) window(channelID string, create bool) *channelWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.channels[channelID]
	if !ok && create {
		w = &channelWindow{}
		s.channels[channelID] = w
	}
	return w
}

// PublishAtomicReplace replaces [RangeStartMs, RangeEndMs) with req.Entries.
// Readers see either the old or the new window, never a mix.
func (s *MemoryStore) PublishAtomicReplace(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return PublishResult{}, err
	}

	incoming, err := normalize(req)
	if err != nil {
		s.metrics.IncPublish(req.ChannelID, publishOutcome(err))
		return PublishResult{}, err
	}

	w := s.window(req.ChannelID, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.high
	if touching := maxGenerationTouching(w.entries, req.RangeStartMs, req.RangeEndMs); touching > current {
		current = touching
	}
	if req.GenerationID <= current {
		s.metrics.IncPublish(req.ChannelID, "stale")
		logger.Log.Warn().
			Str("channel_id", req.ChannelID).
			Int64("generation", req.GenerationID).
			Int64("current_generation", current).
			Str("reason", req.ReasonCode).
			Msg("Rejected stale publish")
		return PublishResult{}, &StaleGenerationError{ChannelID: req.ChannelID, Generation: req.GenerationID, Current: current}
	}

	next, result := replaceRange(w.entries, req, incoming)
	w.entries = next
	w.high = req.GenerationID

	w.history = append(w.history, PublishRecord{
		ChannelID:        req.ChannelID,
		GenerationID:     req.GenerationID,
		ReasonCode:       req.ReasonCode,
		RangeStartMs:     req.RangeStartMs,
		RangeEndMs:       req.RangeEndMs,
		OperatorOverride: req.OperatorOverride,
		EntryCount:       len(incoming),
		PublishedAt:      s.clock.Now(),
	})
	if over := len(w.history) - s.historyLimit; over > 0 {
		w.history = append([]PublishRecord(nil), w.history[over:]...)
	}

	s.metrics.IncPublish(req.ChannelID, "accepted")
	return result, nil
}

// ReadWindowSnapshot returns a copy of every entry overlapping [startMs, endMs)
func (s *MemoryStore) ReadWindowSnapshot(ctx context.Context, channelID string, startMs, endMs int64) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if endMs <= startMs {
		return nil, ErrInvalidRange
	}

	w := s.window(channelID, false)
	if w == nil {
		return []Entry{}, nil
	}

	w.mu.RLock()
	entries := w.entries
	w.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range entries {
		if e.Overlaps(startMs, endMs) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CurrentGeneration returns the highest generation ever accepted for the channel
func (s *MemoryStore) CurrentGeneration(ctx context.Context, channelID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w := s.window(channelID, false)
	if w == nil {
		return 0, nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.high, nil
}

// History returns the most recent publishes, newest first
func (s *MemoryStore) History(ctx context.Context, channelID string, limit int) ([]PublishRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := s.window(channelID, false)
	if w == nil {
		return []PublishRecord{}, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(w.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PublishRecord, 0, n)
	for i := len(w.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, w.history[i])
	}
	return out, nil
}

func publishOutcome(err error) string {
	if IsStale(err) {
		return "stale"
	}
	return "invalid"
}
