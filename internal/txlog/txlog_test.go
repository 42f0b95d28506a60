package txlog

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dayStart = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func testEvents() []Event {
	return []Event{
		{ID: "ev-1", BlockID: "b1", Index: 0, Start: dayStart, End: dayStart.Add(40 * time.Minute), Kind: "program", AssetPath: "/media/news.ts", Title: "News"},
		{ID: "ev-2", BlockID: "b1", Index: 1, Start: dayStart.Add(40 * time.Minute), End: dayStart.Add(42*time.Minute + 500*time.Millisecond), Kind: "interstitial", AssetPath: "/media/bumper.ts"},
		{ID: "ev-3", BlockID: "b1", Index: 2, Start: dayStart.Add(42*time.Minute + 500*time.Millisecond), End: dayStart.Add(time.Hour), Kind: "filler", AssetPath: "/media/bars.ts"},
	}
}

func testHeader() Header {
	return Header{ChannelID: "retro", Date: "2025-03-01", Generation: 7}
}

func TestWriteText_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, testHeader(), testEvents()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "# CHANNEL: retro", lines[0])
	assert.Equal(t, "# DATE: 2025-03-01", lines[1])
	assert.Equal(t, "# GENERATION: 7", lines[2])
	assert.Equal(t, "# VERSION: "+FormatVersion, lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "START "))

	assert.Equal(t,
		"2025-03-01T06:40:00.000Z 2025-03-01T06:42:00.500Z 00:02:00.500 INTERSTITIAL ev-2",
		lines[6])

	// Every row puts the event id at the same column
	idColumn := strings.Index(lines[5], "ev-1")
	for _, line := range lines[6:] {
		assert.Equal(t, idColumn, strings.Index(line, "ev-"), line)
	}
}

func TestWriteJSONL_Records(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, testHeader(), testEvents()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"record":"header"`)
	assert.Contains(t, lines[0], `"generation":7`)
	assert.Contains(t, lines[1], `"event_id":"ev-1"`)
	assert.Contains(t, lines[1], `"duration_ms":2400000`)
	assert.Contains(t, lines[2], `"type":"interstitial"`)
}

func TestReadIDs_RoundTrip(t *testing.T) {
	var text, sidecar bytes.Buffer
	require.NoError(t, WriteText(&text, testHeader(), testEvents()))
	require.NoError(t, WriteJSONL(&sidecar, testHeader(), testEvents()))

	textIDs, err := ReadTextIDs(&text)
	require.NoError(t, err)
	sidecarIDs, err := ReadJSONLIDs(&sidecar)
	require.NoError(t, err)

	want := []string{"ev-1", "ev-2", "ev-3"}
	assert.Equal(t, want, textIDs)
	assert.Equal(t, want, sidecarIDs)
	assert.NoError(t, VerifyBijection(textIDs, sidecarIDs))
}

func TestReadTextIDs_Malformed(t *testing.T) {
	_, err := ReadTextIDs(strings.NewReader("# CHANNEL: x\nnot a row\n"))
	assert.Error(t, err)
}

func TestVerifyBijection(t *testing.T) {
	tests := []struct {
		name    string
		text    []string
		sidecar []string
		check   func(t *testing.T, e *BijectionError)
	}{
		{
			name:    "missing from sidecar",
			text:    []string{"a", "b"},
			sidecar: []string{"a"},
			check: func(t *testing.T, e *BijectionError) {
				assert.Equal(t, []string{"b"}, e.MissingFromSidecar)
			},
		},
		{
			name:    "missing from text",
			text:    []string{"a"},
			sidecar: []string{"a", "c"},
			check: func(t *testing.T, e *BijectionError) {
				assert.Equal(t, []string{"c"}, e.MissingFromText)
			},
		},
		{
			name:    "duplicate in text",
			text:    []string{"a", "a"},
			sidecar: []string{"a"},
			check: func(t *testing.T, e *BijectionError) {
				assert.Equal(t, []string{"a"}, e.DuplicateInText)
			},
		},
		{
			name:    "duplicate in sidecar",
			text:    []string{"a"},
			sidecar: []string{"a", "a"},
			check: func(t *testing.T, e *BijectionError) {
				assert.Equal(t, []string{"a"}, e.DuplicateInSidecar)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyBijection(tt.text, tt.sidecar)
			require.ErrorIs(t, err, ErrBijection)
			var bij *BijectionError
			require.ErrorAs(t, err, &bij)
			tt.check(t, bij)
		})
	}

	assert.NoError(t, VerifyBijection(nil, nil))
}

func TestWriter_WriteAndVerifyDay(t *testing.T) {
	w := NewWriter(t.TempDir())

	require.NoError(t, w.WriteDay(testHeader(), testEvents()))
	require.NoError(t, w.VerifyDay("retro", "2025-03-01"))

	// Rewriting replaces the previous version
	h := testHeader()
	h.Generation = 8
	require.NoError(t, w.WriteDay(h, testEvents()[:2]))
	require.NoError(t, w.VerifyDay("retro", "2025-03-01"))

	textPath, _ := w.Paths("retro", "2025-03-01")
	data, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# GENERATION: 8")
	assert.NotContains(t, string(data), "ev-3")

	days, err := w.Days("retro")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-01"}, days)

	channels, err := w.Channels()
	require.NoError(t, err)
	assert.Equal(t, []string{"retro"}, channels)
}

func TestWriter_VerifyDetectsTamperedSidecar(t *testing.T) {
	w := NewWriter(t.TempDir())
	require.NoError(t, w.WriteDay(testHeader(), testEvents()))

	_, sidecarPath := w.Paths("retro", "2025-03-01")
	var sidecar bytes.Buffer
	require.NoError(t, WriteJSONL(&sidecar, testHeader(), testEvents()[:2]))
	require.NoError(t, os.WriteFile(sidecarPath, sidecar.Bytes(), 0o644))

	err := w.VerifyDay("retro", "2025-03-01")
	var bij *BijectionError
	require.ErrorAs(t, err, &bij)
	assert.Equal(t, []string{"ev-3"}, bij.MissingFromSidecar)
}

func TestWriter_MissingDirectory(t *testing.T) {
	w := NewWriter(t.TempDir() + "/absent")

	days, err := w.Days("retro")
	require.NoError(t, err)
	assert.Empty(t, days)

	assert.Error(t, w.VerifyDay("retro", "2025-03-01"))
}
