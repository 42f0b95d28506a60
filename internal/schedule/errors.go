package schedule

import "errors"

var (
	// ErrChannelNotFound is returned when the lineup has no channel with the given id
	ErrChannelNotFound = errors.New("channel not found in lineup")

	// ErrScheduleNotLoaded is returned when a lookup is made before LoadSchedule compiled the channel
	ErrScheduleNotLoaded = errors.New("channel schedule has not been loaded")

	// ErrChannelNotStarted is returned when the requested time is before the channel's grid epoch
	ErrChannelNotStarted = errors.New("channel has not started broadcasting yet")

	// ErrEmptyLineup is returned when a channel has no blocks with a positive slot count
	ErrEmptyLineup = errors.New("channel lineup is empty")
)
