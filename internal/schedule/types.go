package schedule

import (
	"time"
)

// Segment kinds carried by compiled blocks and transmission log rows
const (
	KindProgram      = "program"
	KindInterstitial = "interstitial"
	KindFiller       = "filler"
)

// Segment is one asset reference inside a compiled block template
type Segment struct {
	AssetPath string        `yaml:"asset" json:"asset_path"`
	Offset    time.Duration `yaml:"offset" json:"offset"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
	Title     string        `yaml:"title" json:"title"`
	Kind      string        `yaml:"kind" json:"kind"`
}

// Item is a segment placed at an absolute position on the channel timeline
type Item struct {
	BlockID   string        `json:"block_id"`
	Index     int           `json:"index"`
	AssetPath string        `json:"asset_path"`
	Offset    time.Duration `json:"offset"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Title     string        `json:"title"`
	Kind      string        `json:"kind"`
}

// Duration returns the length of the item on the timeline
func (i Item) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Block is one compiled program block anchored on the channel's grid.
// Blocks are values; the service hands out copies.
type Block struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	Title          string    `json:"title"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	ProgrammingDay string    `json:"programming_day"`
	Segments       []Segment `json:"segments"`
	FillerAsset    string    `json:"filler_asset,omitempty"`
}

// Contains reports whether t falls inside [Start, End)
func (b Block) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Duration returns the block's grid length
func (b Block) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Items lays the block's segments out on the timeline. Segments running past the
// block end are truncated; time left after the last segment becomes a single filler
// item pointing at the channel's filler asset.
func (b Block) Items() []Item {
	items := make([]Item, 0, len(b.Segments)+1)
	cursor := b.Start

	for _, seg := range b.Segments {
		if !cursor.Before(b.End) {
			break
		}
		if seg.Duration <= 0 {
			continue
		}
		end := cursor.Add(seg.Duration)
		if end.After(b.End) {
			end = b.End
		}
		kind := seg.Kind
		if kind == "" {
			kind = KindProgram
		}
		title := seg.Title
		if title == "" {
			title = b.Title
		}
		items = append(items, Item{
			BlockID:   b.ID,
			Index:     len(items),
			AssetPath: seg.AssetPath,
			Offset:    seg.Offset,
			Start:     cursor,
			End:       end,
			Title:     title,
			Kind:      kind,
		})
		cursor = end
	}

	if cursor.Before(b.End) {
		items = append(items, Item{
			BlockID:   b.ID,
			Index:     len(items),
			AssetPath: b.FillerAsset,
			Start:     cursor,
			End:       b.End,
			Title:     b.Title,
			Kind:      KindFiller,
		})
	}

	return items
}

// ItemAt returns the item covering t, or false if t is outside the block
func (b Block) ItemAt(t time.Time) (Item, bool) {
	if !b.Contains(t) {
		return Item{}, false
	}
	for _, item := range b.Items() {
		if !t.Before(item.Start) && t.Before(item.End) {
			return item, true
		}
	}
	return Item{}, false
}

// ChannelInfo describes a channel known to the schedule service
type ChannelInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Loaded bool   `json:"loaded"`
}
