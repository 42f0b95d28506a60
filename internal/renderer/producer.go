// Package renderer defines the control surface of the downstream renderer and its
// implementations: an in-memory fake and a JSON-over-HTTP client for the Air process.
package renderer

import (
	"context"
	"io"
	"time"
)

// Switch reply status codes
const (
	StatusOK                = "OK"
	StatusProtocolViolation = "PROTOCOL_VIOLATION"
	StatusRejected          = "REJECTED"
)

// PreviewRequest asks the renderer to prepare the next segment ahead of a boundary
type PreviewRequest struct {
	AssetPath     string `json:"asset_path"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	HardStopMs    int64  `json:"hard_stop_time_ms"`
}

// SwitchResult is the renderer's reply to SwitchToLive
type SwitchResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// IsProtocolViolation reports whether the renderer flagged insufficient prefeed lead time
func (r SwitchResult) IsProtocolViolation() bool {
	return r.Status == StatusProtocolViolation
}

// Producer is one channel's renderer handle.
// Output is valid after Start returns and reaches EOF after Stop.
type Producer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	LoadPreview(ctx context.Context, req PreviewRequest) (bool, error)
	SwitchToLive(ctx context.Context, boundary time.Time) (SwitchResult, error)
	OnPacedTick(now time.Time)
	Output() io.Reader
}
