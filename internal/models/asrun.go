package models

import (
	"time"

	"github.com/google/uuid"
)

// AsRunEvent records a segment that actually went to air
type AsRunEvent struct {
	ID            uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	ChannelID     string    `json:"channel_id" gorm:"type:text;not null;column:channel_id"`
	InstanceID    string    `json:"instance_id" gorm:"type:text;not null;column:instance_id"`
	BlockID       string    `json:"block_id" gorm:"type:text;not null;default:'';column:block_id"`
	AssetPath     string    `json:"asset_path" gorm:"type:text;not null;column:asset_path"`
	Title         string    `json:"title" gorm:"type:text;not null;default:'';column:title"`
	StartOffsetMs int64     `json:"start_offset_ms" gorm:"type:integer;not null;default:0;column:start_offset_ms"`
	BoundaryMs    int64     `json:"boundary_ms" gorm:"type:integer;not null;column:boundary_ms"`
	HardStopMs    int64     `json:"hard_stop_ms" gorm:"type:integer;not null;column:hard_stop_ms"`
	Status        string    `json:"status" gorm:"type:text;not null;column:status"`
	LeadTimeMs    int64     `json:"lead_time_ms" gorm:"type:integer;not null;default:0;column:lead_time_ms"`
	Bootstrap     bool      `json:"bootstrap" gorm:"type:integer;not null;default:0;column:bootstrap"`
	Violation     bool      `json:"violation" gorm:"type:integer;not null;default:0;column:violation"`
	CreatedAt     time.Time `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
}
