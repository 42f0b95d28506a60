package playout

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReentryAfterTerminal means something kept driving a channel that already failed.
	// It is a control-flow bug in the caller, never a renderer problem.
	ErrReentryAfterTerminal = errors.New("issuance attempted after terminal failure")

	// ErrManagerClosed is returned by operations on a torn-down manager
	ErrManagerClosed = errors.New("channel manager closed")
)

// FatalError records why a channel entered FAILED_TERMINAL
type FatalError struct {
	ChannelID string
	Boundary  time.Time
	Op        string
	Cause     error
}

// Error implements the error interface
func (e *FatalError) Error() string {
	return fmt.Sprintf("channel %s: terminal failure during %s at boundary %s: %v",
		e.ChannelID, e.Op, e.Boundary.UTC().Format(time.RFC3339Nano), e.Cause)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// LookupError wraps a failure to resolve the next segment. It is transient: the
// orchestrator retries on the next tick.
type LookupError struct {
	Cause error
}

// Error implements the error interface
func (e *LookupError) Error() string {
	return fmt.Sprintf("segment lookup failed: %v", e.Cause)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *LookupError) Unwrap() error {
	return e.Cause
}
