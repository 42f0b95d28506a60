// Package txlog writes the transmission log artifacts for a programming day: a
// fixed-width text file for operators and a JSON lines sidecar carrying the same
// event ids with structured fields.
package txlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatVersion is written into every artifact header
const FormatVersion = "1.0"

const (
	timeLayout    = "2006-01-02T15:04:05.000Z"
	rowFormat     = "%-24s %-24s %-12s %-12s %s\n"
	recordHeader  = "header"
	recordEvent   = "event"
	maxLineLength = 1 << 20
)

// Header identifies one artifact
type Header struct {
	ChannelID  string `json:"channel_id"`
	Date       string `json:"date"`
	Generation int64  `json:"generation"`
	Version    string `json:"version"`
}

// Event is one transmission log row
type Event struct {
	ID            string    `json:"event_id"`
	BlockID       string    `json:"block_id"`
	Index         int       `json:"index"`
	Start         time.Time `json:"start_utc"`
	End           time.Time `json:"end_utc"`
	Kind          string    `json:"type"`
	AssetPath     string    `json:"asset_path"`
	AssetOffsetMs int64     `json:"asset_offset_ms"`
	Title         string    `json:"title"`
}

// Duration returns the event length
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

type jsonRecord struct {
	Record     string `json:"record"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	*Header
	*Event
}

// WriteText writes the fixed-width text artifact
func WriteText(w io.Writer, h Header, events []Event) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# CHANNEL: %s\n", h.ChannelID)
	fmt.Fprintf(bw, "# DATE: %s\n", h.Date)
	fmt.Fprintf(bw, "# GENERATION: %d\n", h.Generation)
	fmt.Fprintf(bw, "# VERSION: %s\n", versionOrDefault(h.Version))
	fmt.Fprintf(bw, rowFormat, "START", "END", "DURATION", "TYPE", "EVENT_ID")

	for _, e := range events {
		fmt.Fprintf(bw, rowFormat,
			e.Start.UTC().Format(timeLayout),
			e.End.UTC().Format(timeLayout),
			formatDuration(e.Duration()),
			strings.ToUpper(e.Kind),
			e.ID,
		)
	}
	return bw.Flush()
}

// WriteJSONL writes the sidecar: one header record followed by one record per event
func WriteJSONL(w io.Writer, h Header, events []Event) error {
	h.Version = versionOrDefault(h.Version)
	enc := json.NewEncoder(w)

	if err := enc.Encode(jsonRecord{Record: recordHeader, Header: &h}); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	for i := range events {
		e := events[i]
		e.Start = e.Start.UTC()
		e.End = e.End.UTC()
		rec := jsonRecord{Record: recordEvent, DurationMs: e.Duration().Milliseconds(), Event: &e}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}
	}
	return nil
}

// ReadTextIDs returns the event ids of a text artifact in file order
func ReadTextIDs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var ids []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "START ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("malformed row: %q", line)
		}
		ids = append(ids, fields[len(fields)-1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read text log: %w", err)
	}
	return ids, nil
}

// ReadJSONLIDs returns the event ids of a sidecar in file order
func ReadJSONLIDs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var ids []string
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var rec struct {
			Record  string `json:"record"`
			EventID string `json:"event_id"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Record != recordEvent {
			continue
		}
		ids = append(ids, rec.EventID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	return ids, nil
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", int64(h), int64(m), int64(s), int64(d/time.Millisecond))
}

func versionOrDefault(v string) string {
	if v == "" {
		return FormatVersion
	}
	return v
}
