// Package schedule serves compiled program blocks for each channel. The lineup is the
// output of the schedule compiler; this package only places it on the channel grid.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/logger"
)

// Service answers "what airs on channel X at time T" from a compiled lineup
type Service struct {
	mu       sync.RWMutex
	channels map[string]*ChannelLineup
	order    []string
	loaded   map[string]bool
}

// NewService creates a schedule service over a validated lineup
func NewService(lineup *Lineup) *Service {
	s := &Service{
		channels: make(map[string]*ChannelLineup, len(lineup.Channels)),
		loaded:   make(map[string]bool, len(lineup.Channels)),
	}
	for i := range lineup.Channels {
		ch := lineup.Channels[i]
		s.channels[ch.ID] = &ch
		s.order = append(s.order, ch.ID)
	}
	return s
}

// LoadSchedule marks a channel's compiled schedule as available for lookups
func (s *Service) LoadSchedule(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("load schedule %s: %w", channelID, ErrChannelNotFound)
	}
	if _, err := calculateGridPosition(ch.Epoch, ch.Epoch, ch.Blocks, ch.SlotLength); err != nil {
		return fmt.Errorf("load schedule %s: %w", channelID, err)
	}

	s.loaded[channelID] = true
	logger.Log.Info().
		Str("channel_id", channelID).
		Int("blocks", len(ch.Blocks)).
		Dur("slot_length", ch.SlotLength).
		Msg("Schedule loaded")
	return nil
}

// LoadAll loads every channel in the lineup
func (s *Service) LoadAll() error {
	for _, id := range s.ChannelIDs() {
		if err := s.LoadSchedule(id); err != nil {
			return err
		}
	}
	return nil
}

// ProgramAt returns the block airing on the channel at t
func (s *Service) ProgramAt(channelID string, t time.Time) (Block, error) {
	ch, err := s.lookup(channelID)
	if err != nil {
		return Block{}, err
	}
	return blockAt(ch, t)
}

// NextProgram returns the first block that starts strictly after the block containing
// after. A time exactly on a boundary belongs to the block starting there, so the
// next program is the one after that.
func (s *Service) NextProgram(channelID string, after time.Time) (Block, error) {
	ch, err := s.lookup(channelID)
	if err != nil {
		return Block{}, err
	}
	current, err := blockAt(ch, after)
	if err != nil {
		return Block{}, err
	}
	return blockAt(ch, current.End)
}

// BlocksInRange returns every block overlapping [start, end) in start order
func (s *Service) BlocksInRange(channelID string, start, end time.Time) ([]Block, error) {
	ch, err := s.lookup(channelID)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, nil
	}
	if start.Before(ch.Epoch) {
		start = ch.Epoch
	}

	var blocks []Block
	cursor := start
	for cursor.Before(end) {
		b, err := blockAt(ch, cursor)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
		cursor = b.End
	}
	return blocks, nil
}

// Interstitials returns the channel's interstitial rotation
func (s *Service) Interstitials(channelID string) ([]Segment, error) {
	ch, err := s.lookup(channelID)
	if err != nil {
		return nil, err
	}
	out := make([]Segment, len(ch.Interstitials))
	copy(out, ch.Interstitials)
	return out, nil
}

// Channels lists the lineup's channels in document order
func (s *Service) Channels() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ChannelInfo, 0, len(s.order))
	for _, id := range s.order {
		ch := s.channels[id]
		infos = append(infos, ChannelInfo{ID: ch.ID, Name: ch.Name, Loaded: s.loaded[id]})
	}
	return infos
}

// ChannelIDs lists the lineup's channel ids in document order
func (s *Service) ChannelIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

func (s *Service) lookup(channelID string) (*ChannelLineup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrChannelNotFound)
	}
	if !s.loaded[channelID] {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrScheduleNotLoaded)
	}
	return ch, nil
}

func blockAt(ch *ChannelLineup, t time.Time) (Block, error) {
	pos, err := calculateGridPosition(ch.Epoch, t.UTC(), ch.Blocks, ch.SlotLength)
	if err != nil {
		return Block{}, fmt.Errorf("channel %s at %s: %w", ch.ID, t.UTC().Format(time.RFC3339), err)
	}

	segments := make([]Segment, len(pos.template.Segments))
	copy(segments, pos.template.Segments)

	return Block{
		ID:             fmt.Sprintf("%s-%s-%d", ch.ID, pos.template.ID, pos.blockStart.Unix()),
		ChannelID:      ch.ID,
		Title:          pos.template.Title,
		Start:          pos.blockStart,
		End:            pos.blockEnd,
		ProgrammingDay: programmingDay(pos.blockStart, ch.DayStart),
		Segments:       segments,
		FillerAsset:    ch.FillerAsset,
	}, nil
}
