package director

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/playout"
	"github.com/stwalsh4118/hermes-playout/internal/renderer"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
)

const testLineup = `
channels:
  - id: retro
    name: Retro TV
    epoch: 2025-01-01T00:00:00Z
    slot_length: 30m
    day_start: 6h
    filler_asset: /media/slate.ts
    blocks:
      - id: loop
        title: Cartoon Loop
        slots: 1
        segments:
          - asset: /media/a.ts
            duration: 1m
          - asset: /media/b.ts
            offset: 20s
            duration: 1m
`

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// producerFactory hands out fake producers and keeps them for inspection
type producerFactory struct {
	mu        sync.Mutex
	producers map[string][]*renderer.FakeProducer
	startErr  error
	entered   chan struct{}
	release   chan struct{}
}

func newProducerFactory() *producerFactory {
	return &producerFactory{producers: make(map[string][]*renderer.FakeProducer)}
}

func (f *producerFactory) create(channelID string) (renderer.Producer, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	p := renderer.NewFakeProducer(renderer.FakeConfig{ChannelID: channelID, ChunkSize: 188})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		p.SetStartError(f.startErr)
	}
	f.producers[channelID] = append(f.producers[channelID], p)
	return p, nil
}

func (f *producerFactory) latest(channelID string) *renderer.FakeProducer {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.producers[channelID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type directorFixture struct {
	director *ProgramDirector
	factory  *producerFactory
	clock    *clock.Manual
	store    *execution.MemoryStore
	schedule *schedule.Service
}

func newDirectorFixture(t *testing.T, capacity int, grace time.Duration) *directorFixture {
	t.Helper()

	lineup, err := schedule.ParseLineup([]byte(testLineup))
	require.NoError(t, err)
	svc := schedule.NewService(lineup)
	require.NoError(t, svc.LoadAll())

	clk := clock.NewManual(testEpoch.Add(30 * time.Second))
	store := execution.NewMemoryStore(clk, nil)
	factory := newProducerFactory()

	d := NewProgramDirector(
		config.PlayoutConfig{
			TickInterval:    time.Hour,
			PrefeedWindow:   3 * time.Second,
			MinLeadTime:     2 * time.Second,
			GraceWindow:     grace,
			RendererTimeout: 100 * time.Millisecond,
		},
		config.StreamingConfig{
			AdmissionCapacity: capacity,
			ViewerBuffer:      64,
			TeardownTimeout:   500 * time.Millisecond,
		},
		Deps{
			Clock:    clk,
			Schedule: svc,
			Store:    store,
			Factory:  factory.create,
			Metrics:  metrics.New(),
		},
	)
	t.Cleanup(d.Stop)

	return &directorFixture{director: d, factory: factory, clock: clk, store: store, schedule: svc}
}

func (f *directorFixture) tick() {
	f.director.tickAll(context.Background())()
}

func readChunks(t *testing.T, v *Viewer, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		select {
		case chunk, ok := <-v.Chunks():
			require.True(t, ok, "viewer %s disconnected early", v.ID())
			buf.Write(chunk)
		case <-time.After(time.Second):
			t.Fatalf("viewer %s timed out waiting for chunk %d", v.ID(), i)
		}
	}
	return buf.Bytes()
}

func TestProgramDirector_ViewersShareOneInstance(t *testing.T) {
	f := newDirectorFixture(t, 4, 5*time.Second)
	ctx := context.Background()

	sessions := make([]*Session, 3)
	for i := range sessions {
		s, err := f.director.Join(ctx, "retro", "")
		require.NoError(t, err)
		sessions[i] = s
	}

	assert.Equal(t, sessions[0].InstanceID, sessions[1].InstanceID)
	assert.Equal(t, sessions[0].InstanceID, sessions[2].InstanceID)
	assert.NotEqual(t, sessions[0].ViewerID, sessions[1].ViewerID)
	assert.Equal(t, []string{"retro"}, f.director.LiveChannels())
	assert.Equal(t, map[string]int{"retro": 3}, f.director.ViewerCounts())

	const ticks = 5
	for i := 0; i < ticks; i++ {
		f.tick()
	}

	first := readChunks(t, sessions[0].Viewer, ticks)
	for _, s := range sessions[1:] {
		assert.Equal(t, first, readChunks(t, s.Viewer, ticks))
	}
	// The first chunk is emitted before the bootstrap switch
	assert.Contains(t, string(first[len(first)-188:]), "asset=/media/a.ts")

	status, ok := f.director.Status("retro")
	require.True(t, ok)
	assert.Equal(t, playout.StateLive, status.State)
	assert.Equal(t, 3, status.Viewers)
}

func TestProgramDirector_LastViewerTearsDown(t *testing.T) {
	f := newDirectorFixture(t, 4, 5*time.Second)
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := f.director.Join(ctx, "retro", "")
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	f.tick()
	producer := f.factory.latest("retro")
	require.NotNil(t, producer)

	f.director.Leave("retro", sessions[0].ViewerID)
	f.director.Leave("retro", sessions[1].ViewerID)
	assert.Equal(t, []string{"retro"}, f.director.LiveChannels())
	assert.False(t, producer.Stopped())

	start := time.Now()
	f.director.Leave("retro", sessions[2].ViewerID)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Empty(t, f.director.LiveChannels())
	assert.True(t, producer.Stopped())
	drain(t, sessions[2].Viewer, time.Second)
	assert.Equal(t, DisconnectDetached, sessions[2].Viewer.Reason())

	// Leaving twice or leaving a dead channel is harmless
	f.director.Leave("retro", sessions[2].ViewerID)
	f.director.Leave("missing", "nobody")

	again, err := f.director.Join(ctx, "retro", "")
	require.NoError(t, err)
	assert.NotEqual(t, sessions[0].InstanceID, again.InstanceID)
	assert.NotSame(t, producer, f.factory.latest("retro"))
}

func TestProgramDirector_AdmissionGate(t *testing.T) {
	f := newDirectorFixture(t, 1, 5*time.Second)
	f.factory.entered = make(chan struct{})
	f.factory.release = make(chan struct{})

	type result struct {
		session *Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := f.director.Join(context.Background(), "retro", "")
		done <- result{s, err}
	}()

	<-f.factory.entered
	_, err := f.director.Join(context.Background(), "retro", "")
	assert.ErrorIs(t, err, ErrAdmissionRejected)

	f.factory.mu.Lock()
	f.factory.entered = nil
	f.factory.mu.Unlock()
	close(f.factory.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "retro", res.session.ChannelID)

	// The gate only covers start-up, so a joined viewer does not hold it
	s, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	assert.Equal(t, res.session.InstanceID, s.InstanceID)
}

func TestProgramDirector_UnknownChannel(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)

	_, err := f.director.Join(context.Background(), "nope", "")
	assert.ErrorIs(t, err, schedule.ErrChannelNotFound)
	assert.Empty(t, f.director.LiveChannels())
	assert.Nil(t, f.factory.latest("nope"))
}

func TestProgramDirector_StartFailureOpensBreaker(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)
	f.factory.startErr = errors.New("renderer unreachable")

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := f.director.Join(context.Background(), "retro", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrChannelUnavailable)
	}
	assert.Equal(t, StateOpen, f.director.Breaker("retro").State())

	_, err := f.director.Join(context.Background(), "retro", "")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.Empty(t, f.director.LiveChannels())

	f.factory.startErr = nil
	f.clock.Advance(breakerResetTimeout)
	_, err = f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, f.director.Breaker("retro").State())
}

func TestProgramDirector_TerminalFailureEndsStream(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)

	s, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	f.factory.latest("retro").SetPreviewError(errors.New("decoder crashed"))

	f.tick()
	f.tick()

	drain(t, s.Viewer, time.Second)
	assert.Contains(t, []string{DisconnectStreamStop, DisconnectStreamEnd}, s.Viewer.Reason())
	assert.Empty(t, f.director.LiveChannels())
	assert.True(t, f.factory.latest("retro").Stopped())

	again, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	assert.NotEqual(t, s.InstanceID, again.InstanceID)
}

func TestProgramDirector_DeferredTeardownForcedAtDeadline(t *testing.T) {
	f := newDirectorFixture(t, 2, time.Second)

	s, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	f.tick()

	// Inside the prefeed window of the first item's hard stop at 1m
	f.clock.Set(testEpoch.Add(58 * time.Second))
	f.tick()
	status, ok := f.director.Status("retro")
	require.True(t, ok)
	require.Equal(t, playout.StateSwitchScheduled, status.State)

	f.director.Leave("retro", s.ViewerID)
	status, ok = f.director.Status("retro")
	require.True(t, ok, "teardown must wait for the boundary")
	assert.True(t, status.Teardown.Pending)

	_, err = f.director.Join(context.Background(), "retro", "")
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	f.clock.Set(testEpoch.Add(59*time.Second + 500*time.Millisecond))
	f.tick()

	assert.Empty(t, f.director.LiveChannels())
	assert.True(t, f.factory.latest("retro").Stopped())
	assert.Len(t, f.factory.latest("retro").Switches(), 1, "the pending boundary switch is never issued")
}

func TestProgramDirector_DeferredTeardownCompletesAfterBoundary(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)

	s, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)
	f.tick()
	f.clock.Set(testEpoch.Add(58 * time.Second))
	f.tick()

	f.director.Leave("retro", s.ViewerID)
	require.Equal(t, []string{"retro"}, f.director.LiveChannels())

	f.clock.Set(testEpoch.Add(time.Minute))
	f.tick()
	producer := f.factory.latest("retro")
	assert.Len(t, producer.Switches(), 2)

	f.tick()
	assert.Empty(t, f.director.LiveChannels())
	assert.True(t, producer.Stopped())
}

func TestProgramDirector_ChannelsListing(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)

	infos := f.director.Channels()
	require.Len(t, infos, 1)
	assert.Equal(t, "retro", infos[0].ID)
	assert.False(t, infos[0].Live)
	assert.Nil(t, infos[0].Status)

	_, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)

	infos = f.director.Channels()
	assert.True(t, infos[0].Live)
	require.NotNil(t, infos[0].Status)
	assert.Equal(t, 1, infos[0].Status.Viewers)
}

func TestProgramDirector_StopTearsDownEverything(t *testing.T) {
	f := newDirectorFixture(t, 2, 5*time.Second)
	require.NoError(t, f.director.Start())

	s, err := f.director.Join(context.Background(), "retro", "")
	require.NoError(t, err)

	f.director.Stop()
	f.director.Stop()

	drain(t, s.Viewer, time.Second)
	assert.Empty(t, f.director.LiveChannels())
	assert.ErrorIs(t, f.director.Start(), ErrDirectorStopped)

	_, err = f.director.Join(context.Background(), "retro", "")
	assert.ErrorIs(t, err, ErrDirectorStopped)
}

func TestSegmentLookup_FollowsSchedule(t *testing.T) {
	f := newDirectorFixture(t, 1, time.Second)
	lookup := NewSegmentLookup("retro", f.schedule, nil)
	ctx := context.Background()

	first, err := lookup(ctx, playout.Segment{}, testEpoch.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/media/a.ts", first.AssetPath)
	assert.Equal(t, 30*time.Second, first.StartOffset)
	assert.True(t, first.HardStop.Equal(testEpoch.Add(time.Minute)))

	next, err := lookup(ctx, first, testEpoch.Add(58*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/media/b.ts", next.AssetPath)
	assert.Equal(t, 20*time.Second, next.StartOffset, "asset offset without join offset")
	assert.True(t, next.HardStop.Equal(testEpoch.Add(2*time.Minute)))

	filler, err := lookup(ctx, next, testEpoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "/media/slate.ts", filler.AssetPath)
	assert.True(t, filler.HardStop.Equal(testEpoch.Add(30*time.Minute)))
}

func TestSegmentLookup_ExecutionWindowWins(t *testing.T) {
	f := newDirectorFixture(t, 1, time.Second)
	ctx := context.Background()

	start := testEpoch.Add(time.Minute).UnixMilli()
	end := testEpoch.Add(2 * time.Minute).UnixMilli()
	_, err := execution.PublishNext(ctx, f.store, execution.PublishRequest{
		ChannelID:        "retro",
		RangeStartMs:     start,
		RangeEndMs:       end,
		ReasonCode:       execution.ReasonOperator,
		OperatorOverride: true,
		Entries: []execution.Entry{{
			ChannelID: "retro",
			BlockID:   "breaking-news",
			StartMs:   start,
			EndMs:     end,
			Segment:   execution.SegmentPayload{AssetPath: "/media/breaking.ts", AssetOffsetMs: 10000},
		}},
	})
	require.NoError(t, err)

	lookup := NewSegmentLookup("retro", f.schedule, f.store)
	first, err := lookup(ctx, playout.Segment{}, testEpoch.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/media/a.ts", first.AssetPath)

	next, err := lookup(ctx, first, testEpoch.Add(58*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/media/breaking.ts", next.AssetPath)
	assert.Equal(t, "breaking-news", next.BlockID)
	assert.Equal(t, 10*time.Second, next.StartOffset)
	assert.True(t, next.HardStop.Equal(testEpoch.Add(2*time.Minute)))

	joined, err := lookup(ctx, playout.Segment{}, testEpoch.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, joined.StartOffset)
}

func TestJoinOffset(t *testing.T) {
	item := schedule.Item{Offset: 5 * time.Second, Start: testEpoch, End: testEpoch.Add(time.Minute)}

	tests := []struct {
		name string
		at   time.Time
		want time.Duration
	}{
		{"at start", testEpoch, 5 * time.Second},
		{"mid item", testEpoch.Add(12 * time.Second), 17 * time.Second},
		{"before start", testEpoch.Add(-time.Second), 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JoinOffset(item, tt.at))
		})
	}
}
