package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleGeneration is returned when a publish does not advance the generation
	ErrStaleGeneration = errors.New("stale generation")

	// ErrEntryOutsideRange is returned when an entry is not inside the publish range
	ErrEntryOutsideRange = errors.New("entry outside publish range")

	// ErrInvalidRange is returned for empty or inverted ranges
	ErrInvalidRange = errors.New("invalid publish range")

	// ErrOverlappingEntries is returned when a publish carries entries that overlap each other
	ErrOverlappingEntries = errors.New("publish entries overlap")

	// ErrMissingChannel is returned when a request has no channel id
	ErrMissingChannel = errors.New("channel id is required")
)

// StaleGenerationError carries the generations involved in a rejected publish
type StaleGenerationError struct {
	ChannelID  string
	Generation int64
	Current    int64
}

func (e *StaleGenerationError) Error() string {
	return fmt.Sprintf("channel %s: generation %d is not greater than %d", e.ChannelID, e.Generation, e.Current)
}

func (e *StaleGenerationError) Unwrap() error {
	return ErrStaleGeneration
}

// OutsideRangeError names the offending entry
type OutsideRangeError struct {
	Entry        Entry
	RangeStartMs int64
	RangeEndMs   int64
}

func (e *OutsideRangeError) Error() string {
	return fmt.Sprintf("entry %s/%d [%d,%d) outside range [%d,%d)",
		e.Entry.BlockID, e.Entry.Index, e.Entry.StartMs, e.Entry.EndMs, e.RangeStartMs, e.RangeEndMs)
}

func (e *OutsideRangeError) Unwrap() error {
	return ErrEntryOutsideRange
}

// IsStale checks if err is a stale generation rejection
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleGeneration)
}
