package models

import (
	"time"

	"github.com/google/uuid"
)

// PlaylogEvent is one row of the persisted transmission log
type PlaylogEvent struct {
	ID             uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	ChannelID      string    `json:"channel_id" gorm:"type:text;not null;column:channel_id"`
	BlockID        string    `json:"block_id" gorm:"type:text;not null;column:block_id"`
	Index          int       `json:"index" gorm:"type:integer;not null;column:idx"`
	ProgrammingDay string    `json:"programming_day" gorm:"type:text;not null;column:programming_day"`
	StartMs        int64     `json:"start_ms" gorm:"type:integer;not null;column:start_ms"`
	EndMs          int64     `json:"end_ms" gorm:"type:integer;not null;column:end_ms"`
	AssetPath      string    `json:"asset_path" gorm:"type:text;not null;column:asset_path"`
	AssetOffsetMs  int64     `json:"asset_offset_ms" gorm:"type:integer;not null;default:0;column:asset_offset_ms"`
	Title          string    `json:"title" gorm:"type:text;not null;default:'';column:title"`
	Kind           string    `json:"kind" gorm:"type:text;not null;column:kind"`
	CreatedAt      time.Time `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
}

// Start returns the event start as a UTC time
func (e *PlaylogEvent) Start() time.Time {
	return time.UnixMilli(e.StartMs).UTC()
}

// End returns the event end as a UTC time
func (e *PlaylogEvent) End() time.Time {
	return time.UnixMilli(e.EndMs).UTC()
}

// Duration returns the event length
func (e *PlaylogEvent) Duration() time.Duration {
	return time.Duration(e.EndMs-e.StartMs) * time.Millisecond
}
