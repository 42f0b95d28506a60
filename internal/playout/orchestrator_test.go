package playout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
)

var testStart = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

// testSegments builds consecutive segments ending at the given offsets from testStart
func testSegments(ends ...time.Duration) []Segment {
	segs := make([]Segment, len(ends))
	for i, end := range ends {
		segs[i] = Segment{
			AssetPath: fmt.Sprintf("/media/%c.ts", 'A'+i),
			HardStop:  testStart.Add(end),
			BlockID:   fmt.Sprintf("block-%d", i),
			Title:     fmt.Sprintf("Segment %c", 'A'+i),
		}
	}
	return segs
}

// listLookup serves segments in order and counts lookups
type listLookup struct {
	segs  []Segment
	calls int
	err   error
}

func (l *listLookup) lookup(_ context.Context, prev Segment, _ time.Time) (Segment, error) {
	l.calls++
	if l.err != nil {
		return Segment{}, l.err
	}
	if prev.IsZero() {
		return l.segs[0], nil
	}
	for i, s := range l.segs {
		if s.Same(prev) && i+1 < len(l.segs) {
			return l.segs[i+1], nil
		}
	}
	return Segment{}, errors.New("schedule exhausted")
}

type issuedCall struct {
	op       string
	asset    string
	boundary time.Time
	at       time.Time
}

// recordingIssuer captures instructions with the clock reading at issue time
type recordingIssuer struct {
	clk        clock.MasterClock
	calls      []issuedCall
	switchErr  error
	previewErr error
}

func (r *recordingIssuer) LoadPreview(_ context.Context, seg Segment) error {
	r.calls = append(r.calls, issuedCall{op: "preview", asset: seg.AssetPath, at: r.clk.Now()})
	return r.previewErr
}

func (r *recordingIssuer) SwitchToLive(_ context.Context, sw Switch) error {
	r.calls = append(r.calls, issuedCall{op: "switch", asset: sw.Segment.AssetPath, boundary: sw.Boundary, at: r.clk.Now()})
	return r.switchErr
}

func (r *recordingIssuer) count(op, asset string) int {
	n := 0
	for _, c := range r.calls {
		if c.op == op && c.asset == asset {
			n++
		}
	}
	return n
}

func TestOrchestrator_Bootstrap(t *testing.T) {
	clk := clock.NewManual(testStart)
	lk := &listLookup{segs: testSegments(10*time.Second, 20*time.Second)}
	iss := &recordingIssuer{clk: clk}
	o := NewSegmentOrchestrator(clk, 3*time.Second, lk.lookup, iss)

	require.NoError(t, o.Tick(context.Background()))

	require.Len(t, iss.calls, 2)
	assert.Equal(t, issuedCall{op: "preview", asset: "/media/A.ts", at: testStart}, iss.calls[0])
	assert.Equal(t, "switch", iss.calls[1].op)
	assert.Equal(t, testStart, iss.calls[1].boundary)

	active, ok := o.Active()
	require.True(t, ok)
	assert.Equal(t, "/media/A.ts", active.AssetPath)

	deadline, ok := o.PreloadDeadline()
	require.True(t, ok)
	assert.Equal(t, testStart.Add(7*time.Second), deadline)
}

// A ends at 10s, B at 20s: preview B once at 7s, switch once at 10s
func TestOrchestrator_PreviewAndSwitchExactlyOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	lk := &listLookup{segs: testSegments(10*time.Second, 20*time.Second, 30*time.Second)}
	iss := &recordingIssuer{clk: clk}
	o := NewSegmentOrchestrator(clk, 3*time.Second, lk.lookup, iss)

	require.NoError(t, o.Tick(ctx))

	for _, at := range []time.Duration{time.Second, 4 * time.Second, 6900 * time.Millisecond} {
		clk.Set(testStart.Add(at))
		require.NoError(t, o.Tick(ctx))
	}
	assert.Equal(t, 0, iss.count("preview", "/media/B.ts"), "no preview before the deadline")

	for _, at := range []time.Duration{7 * time.Second, 7 * time.Second, 8 * time.Second, 9999 * time.Millisecond} {
		clk.Set(testStart.Add(at))
		require.NoError(t, o.Tick(ctx))
	}
	assert.Equal(t, 1, iss.count("preview", "/media/B.ts"))
	assert.Equal(t, 0, iss.count("switch", "/media/B.ts"))

	for _, at := range []time.Duration{10 * time.Second, 10 * time.Second, 11 * time.Second} {
		clk.Set(testStart.Add(at))
		require.NoError(t, o.Tick(ctx))
	}
	assert.Equal(t, 1, iss.count("preview", "/media/B.ts"))
	assert.Equal(t, 1, iss.count("switch", "/media/B.ts"))

	var previewAt, switchBoundary time.Time
	for _, c := range iss.calls {
		if c.asset != "/media/B.ts" {
			continue
		}
		if c.op == "preview" {
			previewAt = c.at
		} else {
			switchBoundary = c.boundary
		}
	}
	assert.Equal(t, testStart.Add(7*time.Second), previewAt)
	assert.Equal(t, testStart.Add(10*time.Second), switchBoundary)

	clk.Set(testStart.Add(17 * time.Second))
	require.NoError(t, o.Tick(ctx))
	assert.Equal(t, 1, iss.count("preview", "/media/C.ts"))
}

func TestOrchestrator_LatePreviewBeforeSwitch(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	lk := &listLookup{segs: testSegments(10*time.Second, 20*time.Second)}
	iss := &recordingIssuer{clk: clk}
	o := NewSegmentOrchestrator(clk, 3*time.Second, lk.lookup, iss)

	require.NoError(t, o.Tick(ctx))

	// The whole prefeed window passes without a tick
	clk.Set(testStart.Add(10 * time.Second))
	require.NoError(t, o.Tick(ctx))

	require.Len(t, iss.calls, 4)
	assert.Equal(t, "preview", iss.calls[2].op)
	assert.Equal(t, "switch", iss.calls[3].op)
	assert.Equal(t, "/media/B.ts", iss.calls[3].asset)
}

func TestOrchestrator_LookupErrorIsRetried(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	lk := &listLookup{err: errors.New("schedule unavailable")}
	iss := &recordingIssuer{clk: clk}
	o := NewSegmentOrchestrator(clk, 3*time.Second, lk.lookup, iss)

	err := o.Tick(ctx)
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Empty(t, iss.calls)

	lk.err = nil
	lk.segs = testSegments(10 * time.Second)
	require.NoError(t, o.Tick(ctx))
	assert.Len(t, iss.calls, 2)
}

func TestOrchestrator_FailedPreviewNotReissued(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	lk := &listLookup{segs: testSegments(10*time.Second, 20*time.Second)}
	iss := &recordingIssuer{clk: clk}
	o := NewSegmentOrchestrator(clk, 3*time.Second, lk.lookup, iss)
	require.NoError(t, o.Tick(ctx))

	iss.previewErr = errors.New("renderer busy")
	clk.Set(testStart.Add(7 * time.Second))
	assert.Error(t, o.Tick(ctx))

	iss.previewErr = nil
	clk.Set(testStart.Add(8 * time.Second))
	require.NoError(t, o.Tick(ctx))
	assert.Equal(t, 1, iss.count("preview", "/media/B.ts"))
}

func TestSegment_ValueSemantics(t *testing.T) {
	a := Segment{AssetPath: "/a.ts", HardStop: testStart, StartOffset: 1500 * time.Millisecond}
	b := a
	b.StartOffset = 0

	assert.True(t, a.Same(a))
	assert.False(t, a.Same(b))
	assert.True(t, Segment{}.IsZero())
	assert.False(t, a.IsZero())

	req := a.PreviewRequest()
	assert.Equal(t, int64(1500), req.StartOffsetMs)
	assert.Equal(t, testStart.UnixMilli(), req.HardStopMs)
}
