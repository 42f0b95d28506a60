package playout

import (
	"context"
	"time"
)

// AsRunRecord describes a segment that actually went to air
type AsRunRecord struct {
	ChannelID   string
	InstanceID  string
	BlockID     string
	AssetPath   string
	Title       string
	StartOffset time.Duration
	Boundary    time.Time
	HardStop    time.Time
	Status      string
	LeadTime    time.Duration
	Bootstrap   bool
	Violation   bool
}

// AsRunRecorder persists as-run records
type AsRunRecorder interface {
	RecordAsRun(ctx context.Context, rec AsRunRecord) error
}
