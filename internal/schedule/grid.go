package schedule

import (
	"time"
)

// gridPosition is the result of placing an instant on a channel's looping grid
type gridPosition struct {
	template   *BlockTemplate
	blockStart time.Time
	blockEnd   time.Time
}

// calculateGridPosition finds the block template airing at currentTime on a grid that
// starts at epoch and loops over templates forever.
// This is a pure function with no I/O.
//
// Parameters:
//   - epoch: When the channel's grid started (UTC)
//   - currentTime: The time to place on the grid (UTC)
//   - templates: Ordered block templates; each occupies Slots grid slots
//   - slot: Length of one grid slot
//
// Returns:
//   - gridPosition: The template and its absolute start and end
//   - error: ErrChannelNotStarted, ErrEmptyLineup, or nil
//
// A time exactly on a block boundary belongs to the block that starts there.
func calculateGridPosition(epoch, currentTime time.Time, templates []BlockTemplate, slot time.Duration) (gridPosition, error) {
	if len(templates) == 0 || slot <= 0 {
		return gridPosition{}, ErrEmptyLineup
	}

	elapsed := currentTime.Sub(epoch)
	if elapsed < 0 {
		return gridPosition{}, ErrChannelNotStarted
	}

	var cycle time.Duration
	for i := range templates {
		if templates[i].Slots > 0 {
			cycle += time.Duration(templates[i].Slots) * slot
		}
	}
	if cycle == 0 {
		return gridPosition{}, ErrEmptyLineup
	}

	position := elapsed % cycle
	cycleStart := currentTime.Add(-position)

	var accumulated time.Duration
	for i := range templates {
		tmpl := &templates[i]
		if tmpl.Slots <= 0 {
			continue
		}
		length := time.Duration(tmpl.Slots) * slot
		if position < accumulated+length {
			start := cycleStart.Add(accumulated)
			return gridPosition{
				template:   tmpl,
				blockStart: start,
				blockEnd:   start.Add(length),
			}, nil
		}
		accumulated += length
	}

	// Unreachable while position < cycle
	return gridPosition{}, ErrEmptyLineup
}

// programmingDay labels the broadcast day a block belongs to. Broadcast days start at
// dayStart past midnight UTC, so a 02:00 block on a 06:00 day belongs to the previous date.
func programmingDay(start time.Time, dayStart time.Duration) string {
	return start.UTC().Add(-dayStart).Format("2006-01-02")
}
