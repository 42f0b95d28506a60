package playout

import (
	"errors"
)

// BoundaryState is a channel's position in the per-boundary issuance cycle
type BoundaryState string

// Boundary state constants
const (
	StateNone            BoundaryState = "NONE"             // Nothing issued yet
	StatePlanned         BoundaryState = "PLANNED"          // Next segment chosen
	StatePreloadIssued   BoundaryState = "PRELOAD_ISSUED"   // LoadPreview acknowledged
	StateSwitchScheduled BoundaryState = "SWITCH_SCHEDULED" // Waiting for the boundary
	StateSwitchIssued    BoundaryState = "SWITCH_ISSUED"    // SwitchToLive in flight
	StateLive            BoundaryState = "LIVE"             // Segment on air
	StateFailedTerminal  BoundaryState = "FAILED_TERMINAL"  // Permanently stopped
)

// Common errors
var (
	ErrInvalidStateTransition = errors.New("invalid boundary state transition")
)

// String returns the string representation of the boundary state
func (s BoundaryState) String() string {
	return string(s)
}

// IsValid checks if the boundary state is a known valid value
func (s BoundaryState) IsValid() bool {
	switch s {
	case StateNone, StatePlanned, StatePreloadIssued, StateSwitchScheduled,
		StateSwitchIssued, StateLive, StateFailedTerminal:
		return true
	default:
		return false
	}
}

// IsStable reports whether the channel can be torn down without losing in-flight work
func (s BoundaryState) IsStable() bool {
	return s == StateNone || s == StateLive || s == StateFailedTerminal
}

// CanTransitionTo checks if a transition from current state to newState is valid
func (s BoundaryState) CanTransitionTo(newState BoundaryState) bool {
	if newState == StateFailedTerminal {
		return s.IsValid() && !s.IsStable()
	}

	switch s {
	case StateNone, StateLive:
		return newState == StatePlanned
	case StatePlanned:
		return newState == StatePreloadIssued
	case StatePreloadIssued:
		return newState == StateSwitchScheduled
	case StateSwitchScheduled:
		return newState == StateSwitchIssued
	case StateSwitchIssued:
		return newState == StateLive
	default:
		return false
	}
}
