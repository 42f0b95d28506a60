package director

import "errors"

var (
	// ErrAdmissionRejected is returned when the start-up gate is full
	ErrAdmissionRejected = errors.New("admission gate full, try again later")

	// ErrChannelUnavailable is returned when a channel cannot take viewers right now
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrStreamClosed is returned when attaching to a stream that has ended
	ErrStreamClosed = errors.New("channel stream closed")

	// ErrDirectorStopped is returned after Stop
	ErrDirectorStopped = errors.New("program director stopped")
)
