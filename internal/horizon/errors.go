package horizon

import "errors"

var (
	// ErrExtensionInProgress is returned when another pass is already running for the channel
	ErrExtensionInProgress = errors.New("horizon extension already in progress")

	// ErrLockHeld is returned when another process holds the channel's extension lock
	ErrLockHeld = errors.New("horizon lock held by another process")
)
