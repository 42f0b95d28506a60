package models

import "time"

// ExecutionEntryRow is a persisted execution window entry
type ExecutionEntryRow struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement;column:id"`
	ChannelID          string `gorm:"type:text;not null;column:channel_id"`
	BlockID            string `gorm:"type:text;not null;column:block_id"`
	Index              int    `gorm:"type:integer;not null;column:idx"`
	StartMs            int64  `gorm:"type:integer;not null;column:start_ms"`
	EndMs              int64  `gorm:"type:integer;not null;column:end_ms"`
	AssetPath          string `gorm:"type:text;not null;column:asset_path"`
	AssetOffsetMs      int64  `gorm:"type:integer;not null;default:0;column:asset_offset_ms"`
	Title              string `gorm:"type:text;not null;default:'';column:title"`
	Kind               string `gorm:"type:text;not null;default:'';column:kind"`
	EventID            string `gorm:"type:text;not null;default:'';column:event_id"`
	ProgrammingDay     string `gorm:"type:text;not null;default:'';column:programming_day"`
	GenerationID       int64  `gorm:"type:integer;not null;column:generation_id"`
	IsOperatorOverride bool   `gorm:"type:integer;not null;default:0;column:is_operator_override"`
}

// TableName overrides the default table name
func (ExecutionEntryRow) TableName() string {
	return "execution_entries"
}

// ExecutionPublishRow is one entry of the publish journal
type ExecutionPublishRow struct {
	ID               uint      `gorm:"primaryKey;autoIncrement;column:id"`
	ChannelID        string    `gorm:"type:text;not null;column:channel_id"`
	GenerationID     int64     `gorm:"type:integer;not null;column:generation_id"`
	ReasonCode       string    `gorm:"type:text;not null;default:'';column:reason_code"`
	RangeStartMs     int64     `gorm:"type:integer;not null;column:range_start_ms"`
	RangeEndMs       int64     `gorm:"type:integer;not null;column:range_end_ms"`
	OperatorOverride bool      `gorm:"type:integer;not null;default:0;column:operator_override"`
	EntryCount       int       `gorm:"type:integer;not null;default:0;column:entry_count"`
	PublishedAt      time.Time `gorm:"type:datetime;not null;column:published_at"`
}

// TableName overrides the default table name
func (ExecutionPublishRow) TableName() string {
	return "execution_publishes"
}
