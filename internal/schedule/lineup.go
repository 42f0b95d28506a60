package schedule

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultSlotLength = 30 * time.Minute

// Lineup is the compiled schedule document produced by the schedule compiler
type Lineup struct {
	Channels []ChannelLineup `yaml:"channels"`
}

// ChannelLineup holds one channel's grid definition
type ChannelLineup struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Epoch         time.Time       `yaml:"epoch"`
	SlotLength    time.Duration   `yaml:"slot_length"`
	DayStart      time.Duration   `yaml:"day_start"`
	FillerAsset   string          `yaml:"filler_asset"`
	Interstitials []Segment       `yaml:"interstitials"`
	Blocks        []BlockTemplate `yaml:"blocks"`
}

// BlockTemplate is a block repeated every time the grid loops
type BlockTemplate struct {
	ID       string    `yaml:"id"`
	Title    string    `yaml:"title"`
	Slots    int       `yaml:"slots"`
	Segments []Segment `yaml:"segments"`
}

// LoadLineupFile reads and validates a lineup from a YAML file
func LoadLineupFile(path string) (*Lineup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lineup: %w", err)
	}
	return ParseLineup(data)
}

// ParseLineup decodes and validates a lineup document
func ParseLineup(data []byte) (*Lineup, error) {
	var lineup Lineup
	if err := yaml.Unmarshal(data, &lineup); err != nil {
		return nil, fmt.Errorf("decode lineup: %w", err)
	}
	if err := lineup.Validate(); err != nil {
		return nil, err
	}
	return &lineup, nil
}

// Validate checks channel ids are unique and every channel has a usable grid
func (l *Lineup) Validate() error {
	seen := make(map[string]bool, len(l.Channels))
	for i := range l.Channels {
		ch := &l.Channels[i]
		if ch.ID == "" {
			return fmt.Errorf("lineup channel %d: id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("lineup channel %s: duplicate id", ch.ID)
		}
		seen[ch.ID] = true

		if ch.SlotLength == 0 {
			ch.SlotLength = defaultSlotLength
		}
		if ch.SlotLength < 0 {
			return fmt.Errorf("lineup channel %s: slot_length must be positive", ch.ID)
		}
		if ch.DayStart < 0 || ch.DayStart >= 24*time.Hour {
			return fmt.Errorf("lineup channel %s: day_start must be within a day", ch.ID)
		}
		if ch.Epoch.IsZero() {
			return fmt.Errorf("lineup channel %s: epoch is required", ch.ID)
		}
		ch.Epoch = ch.Epoch.UTC()

		hasSlots := false
		for _, b := range ch.Blocks {
			if b.ID == "" {
				return fmt.Errorf("lineup channel %s: block id is required", ch.ID)
			}
			if b.Slots > 0 {
				hasSlots = true
			}
		}
		if !hasSlots {
			return fmt.Errorf("lineup channel %s: %w", ch.ID, ErrEmptyLineup)
		}
	}
	return nil
}
