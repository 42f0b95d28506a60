package horizon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
)

// eventNamespace scopes the name-based uuids of transmission log events
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hermes-playout/playlog-event"))

// EventID returns the stable id of the index-th event of a block
func EventID(channelID, blockID string, index int) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s/%s/%d", channelID, blockID, index)))
}

// Filler lays out a block and packs the time left after programme content with
// interstitials from the channel rotation. Output depends only on the block and
// the rotation so a block always expands to the same events.
type Filler struct {
	interstitials []schedule.Segment
}

// NewFiller creates a filler for a rotation; segments without a duration are ignored
func NewFiller(interstitials []schedule.Segment) *Filler {
	usable := make([]schedule.Segment, 0, len(interstitials))
	for _, seg := range interstitials {
		if seg.Duration > 0 && seg.AssetPath != "" {
			usable = append(usable, seg)
		}
	}
	return &Filler{interstitials: usable}
}

// Fill returns the items of a block with the trailing gap packed
func (f *Filler) Fill(b schedule.Block) []schedule.Item {
	items := b.Items()
	if len(items) == 0 || len(f.interstitials) == 0 {
		return items
	}

	last := items[len(items)-1]
	if last.Kind != schedule.KindFiller {
		return items
	}
	items = items[:len(items)-1]

	cursor := last.Start
	n := len(f.interstitials)
	next := int((b.Start.Unix() / 60) % int64(n))
	for misses := 0; misses < n && cursor.Before(b.End); {
		seg := f.interstitials[next]
		next = (next + 1) % n

		if cursor.Add(seg.Duration).After(b.End) {
			misses++
			continue
		}
		misses = 0
		items = append(items, interstitialItem(b, seg, cursor, len(items)))
		cursor = cursor.Add(seg.Duration)
	}

	if cursor.Before(b.End) {
		last.Start = cursor
		last.Index = len(items)
		items = append(items, last)
	}
	return items
}

func interstitialItem(b schedule.Block, seg schedule.Segment, start time.Time, index int) schedule.Item {
	title := seg.Title
	if title == "" {
		title = b.Title
	}
	return schedule.Item{
		BlockID:   b.ID,
		Index:     index,
		AssetPath: seg.AssetPath,
		Offset:    seg.Offset,
		Start:     start,
		End:       start.Add(seg.Duration),
		Title:     title,
		Kind:      schedule.KindInterstitial,
	}
}
