package horizon

import (
	"sort"

	"github.com/stwalsh4118/hermes-playout/internal/execution"
)

// span is a half-open millisecond range
type span struct {
	start int64
	end   int64
}

// subtract returns the parts of [start, end) not covered by any of covered, in order
func subtract(start, end int64, covered []span) []span {
	sorted := make([]span, 0, len(covered))
	for _, c := range covered {
		if c.start < end && c.end > start {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var out []span
	cursor := start
	for _, c := range sorted {
		if c.start > cursor {
			out = append(out, span{start: cursor, end: c.start})
		}
		if c.end > cursor {
			cursor = c.end
		}
		if cursor >= end {
			return out
		}
	}
	if cursor < end {
		out = append(out, span{start: cursor, end: end})
	}
	return out
}

// clipEntries keeps the parts of entries inside [start, end).
// A clipped head advances the asset offset by the amount cut.
func clipEntries(entries []execution.Entry, start, end int64) []execution.Entry {
	var out []execution.Entry
	for _, e := range entries {
		if !e.Overlaps(start, end) {
			continue
		}
		if e.StartMs < start {
			e.Segment.AssetOffsetMs += start - e.StartMs
			e.StartMs = start
		}
		if e.EndMs > end {
			e.EndMs = end
		}
		out = append(out, e)
	}
	return out
}

func spansOf(entries []execution.Entry) []span {
	out := make([]span, len(entries))
	for i, e := range entries {
		out[i] = span{start: e.StartMs, end: e.EndMs}
	}
	return out
}
