package horizon

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/db"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/models"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
	"github.com/stwalsh4118/hermes-playout/internal/txlog"
)

const testLineup = `
channels:
  - id: retro
    name: Retro TV
    epoch: 2025-01-01T00:00:00Z
    slot_length: 30m
    day_start: 6h
    filler_asset: /media/slate.ts
    interstitials:
      - asset: /media/promo-a.ts
        duration: 5m
      - asset: /media/promo-b.ts
        duration: 7m
    blocks:
      - id: news
        title: Evening News
        slots: 2
        segments:
          - asset: /media/news.ts
            duration: 40m
      - id: movie
        title: Feature Film
        slots: 3
        segments:
          - asset: /media/movie.ts
            offset: 5m
            duration: 100m
`

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	daemon   *Daemon
	repos    *db.Repositories
	store    *execution.MemoryStore
	schedule *schedule.Service
	clock    *clock.Manual
	cfg      config.HorizonConfig
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	lineup, err := schedule.ParseLineup([]byte(testLineup))
	require.NoError(t, err)
	svc := schedule.NewService(lineup)
	require.NoError(t, svc.LoadAll())

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(sqlDB, "file://../../migrations"))
	repos := db.NewRepositories(database)

	clk := clock.NewManual(testEpoch.Add(10 * time.Minute))
	store := execution.NewMemoryStore(clk, nil)
	cfg := config.HorizonConfig{
		MinHours:      3,
		CheckInterval: time.Hour,
		LockDir:       t.TempDir(),
		ArtifactDir:   t.TempDir(),
	}
	deps := Deps{
		Clock:     clk,
		Schedule:  svc,
		Playlog:   repos.Playlog,
		Store:     store,
		Artifacts: txlog.NewWriter(cfg.ArtifactDir),
		Metrics:   metrics.New(),
	}

	return &fixture{
		daemon:   NewDaemon("retro", cfg, deps),
		repos:    repos,
		store:    store,
		schedule: svc,
		clock:    clk,
		cfg:      cfg,
		deps:     deps,
	}
}

func ms(d time.Duration) int64 {
	return testEpoch.Add(d).UnixMilli()
}

func TestFiller_PacksGapDeterministically(t *testing.T) {
	lineup, err := schedule.ParseLineup([]byte(testLineup))
	require.NoError(t, err)
	svc := schedule.NewService(lineup)
	require.NoError(t, svc.LoadAll())

	block, err := svc.ProgramAt("retro", testEpoch)
	require.NoError(t, err)
	inter, err := svc.Interstitials("retro")
	require.NoError(t, err)

	filler := NewFiller(inter)
	items := filler.Fill(block)
	assert.Equal(t, items, filler.Fill(block))

	require.GreaterOrEqual(t, len(items), 3)
	assert.Equal(t, schedule.KindProgram, items[0].Kind)
	assert.Equal(t, schedule.KindInterstitial, items[1].Kind)

	cursor := block.Start
	for i, item := range items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, cursor, item.Start, "items are contiguous")
		cursor = item.End
	}
	assert.Equal(t, block.End, cursor)

	last := items[len(items)-1]
	if last.Kind == schedule.KindFiller {
		assert.Less(t, last.Duration(), 5*time.Minute, "filler only covers what no interstitial fits")
	}
}

func TestFiller_NoRotationKeepsFillerItem(t *testing.T) {
	lineup, err := schedule.ParseLineup([]byte(testLineup))
	require.NoError(t, err)
	svc := schedule.NewService(lineup)
	require.NoError(t, svc.LoadAll())
	block, err := svc.ProgramAt("retro", testEpoch)
	require.NoError(t, err)

	items := NewFiller(nil).Fill(block)
	assert.Equal(t, block.Items(), items)
}

func TestEventID_Stable(t *testing.T) {
	assert.Equal(t, EventID("retro", "b1", 0), EventID("retro", "b1", 0))
	assert.NotEqual(t, EventID("retro", "b1", 0), EventID("retro", "b1", 1))
	assert.NotEqual(t, EventID("retro", "b1", 0), EventID("news", "b1", 0))
}

func TestExtendToTarget_WritesMissingBlocksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, result.BlocksWritten)
	assert.Equal(t, 3, result.Published)

	end, err := f.repos.Playlog.FarthestEnd(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, ms(3*time.Hour+30*time.Minute), end)

	again, err := f.daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, again.BlocksWritten)

	events, err := f.repos.Playlog.EventsInRange(ctx, "retro", ms(0), ms(4*time.Hour))
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, e := range events {
		key := e.ID.String()
		assert.False(t, seen[key], "duplicate event %s", key)
		seen[key] = true
	}

	entries, err := f.store.ReadWindowSnapshot(ctx, "retro", ms(0), ms(3*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, entries, len(events))
	assert.Equal(t, EventID("retro", entries[0].BlockID, 0).String(), entries[0].Segment.EventID)

	gen, err := f.store.CurrentGeneration(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)
}

func TestEnsureCoversNow_BackfillsOnlyContainingBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := ms(100 * time.Minute) // inside the movie block [1h, 2h30m)

	result, err := f.daemon.EnsureCoversNow(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlocksWritten)

	covered, err := f.repos.Playlog.CoversTime(ctx, "retro", now)
	require.NoError(t, err)
	assert.True(t, covered)

	past, err := f.repos.Playlog.EventsInRange(ctx, "retro", ms(0), ms(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, past, "wholly past blocks are never written")

	end, err := f.repos.Playlog.FarthestEnd(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, ms(150*time.Minute), end)

	again, err := f.daemon.EnsureCoversNow(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, again.BlocksWritten)
}

func TestEnsureCoversNow_GapBehindFutureRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Only a future block is on file
	_, err := f.daemon.ExtendToTarget(ctx, ms(150*time.Minute), ms(151*time.Minute))
	require.NoError(t, err)

	now := ms(70 * time.Minute)
	result, err := f.daemon.EnsureCoversNow(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlocksWritten)

	existing, err := f.repos.Playlog.ExistingBlockIDs(ctx, "retro", []string{
		"retro-news-" + itoa(testEpoch.Unix()),
		"retro-movie-" + itoa(testEpoch.Add(time.Hour).Unix()),
		"retro-news-" + itoa(testEpoch.Add(150*time.Minute).Unix()),
	})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.False(t, existing["retro-news-"+itoa(testEpoch.Unix())])
}

func TestExtendToTarget_PublishesAroundOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := execution.PublishNext(ctx, f.store, execution.PublishRequest{
		ChannelID:    "retro",
		RangeStartMs: ms(time.Hour),
		RangeEndMs:   ms(70 * time.Minute),
		Entries: []execution.Entry{{
			BlockID: "breaking",
			StartMs: ms(time.Hour),
			EndMs:   ms(70 * time.Minute),
			Segment: execution.SegmentPayload{AssetPath: "/media/breaking.ts"},
		}},
		ReasonCode:       execution.ReasonOperator,
		OperatorOverride: true,
	})
	require.NoError(t, err)

	result, err := f.daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, result.BlocksWritten)
	assert.Equal(t, 3, result.Published)
	assert.Equal(t, 1, result.SkippedOverride)

	covered, err := f.repos.Playlog.CoversTime(ctx, "retro", ms(65*time.Minute))
	require.NoError(t, err)
	assert.True(t, covered, "playlog still records the block")

	inside, ok, err := execution.EntryAt(ctx, f.store, "retro", ms(65*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, inside.IsOperatorOverride)
	assert.Equal(t, "/media/breaking.ts", inside.Segment.AssetPath)

	after, ok, err := execution.EntryAt(ctx, f.store, "retro", ms(100*time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "forward fill outside the override is published")
	assert.False(t, after.IsOperatorOverride)
	assert.Equal(t, "/media/movie.ts", after.Segment.AssetPath)
	assert.Equal(t, ms(70*time.Minute), after.StartMs)
	assert.Equal(t, ms(150*time.Minute), after.EndMs)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), after.Segment.AssetOffsetMs)

	entries, err := f.store.ReadWindowSnapshot(ctx, "retro", ms(time.Hour), ms(150*time.Minute))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// failingStore rejects the next `failures` publishes
type failingStore struct {
	execution.Store
	failures atomic.Int32
}

func (s *failingStore) PublishAtomicReplace(ctx context.Context, req execution.PublishRequest) (execution.PublishResult, error) {
	if s.failures.Add(-1) >= 0 {
		return execution.PublishResult{}, errors.New("store offline")
	}
	return s.Store.PublishAtomicReplace(ctx, req)
}

func TestExtendToTarget_RepublishesAfterFailedPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := &failingStore{Store: f.store}
	store.failures.Store(1)
	deps := f.deps
	deps.Store = store
	daemon := NewDaemon("retro", f.cfg, deps)

	first, err := daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
	assert.Equal(t, 1, first.BlocksWritten)
	assert.Equal(t, 0, first.Published)
	assert.Contains(t, daemon.Status().LastPassError, "store offline")

	_, ok, err := execution.EntryAt(ctx, f.store, "retro", ms(15*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	second, err := daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, second.BlocksWritten)
	assert.Equal(t, 1, second.Republished)
	assert.Equal(t, 3, second.Published)
	assert.Empty(t, daemon.Status().LastPassError)

	entry, ok, err := execution.EntryAt(ctx, f.store, "retro", ms(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	newsID := "retro-news-" + itoa(testEpoch.Unix())
	assert.Equal(t, newsID, entry.BlockID)
	assert.Equal(t, EventID("retro", newsID, 0).String(), entry.Segment.EventID)

	third, err := daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, third.BlocksWritten)
	assert.Equal(t, 0, third.Republished)
	assert.Equal(t, 0, third.Published)
}

// countingPlaylog counts existence queries and can cancel a pass after an insert
type countingPlaylog struct {
	PlaylogStore
	existenceQueries atomic.Int32
	afterInsert      func()
}

func (p *countingPlaylog) ExistingBlockIDs(ctx context.Context, channelID string, blockIDs []string) (map[string]bool, error) {
	p.existenceQueries.Add(1)
	return p.PlaylogStore.ExistingBlockIDs(ctx, channelID, blockIDs)
}

func (p *countingPlaylog) InsertBlock(ctx context.Context, events []*models.PlaylogEvent) (int64, error) {
	n, err := p.PlaylogStore.InsertBlock(ctx, events)
	if p.afterInsert != nil {
		p.afterInsert()
	}
	return n, err
}

func TestExtendToTarget_OneExistenceQueryPerPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	playlog := &countingPlaylog{PlaylogStore: f.repos.Playlog}
	deps := f.deps
	deps.Playlog = playlog
	cfg := f.cfg
	cfg.YieldInterval = 20 * time.Millisecond
	daemon := NewDaemon("retro", cfg, deps)

	began := time.Now()
	result, err := daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, result.BlocksWritten)
	assert.Equal(t, int32(1), playlog.existenceQueries.Load())
	assert.GreaterOrEqual(t, time.Since(began), 3*cfg.YieldInterval, "each block write yields")

	_, err = daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(2), playlog.existenceQueries.Load())
}

func TestExtendToTarget_StopsBetweenBlocksOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	playlog := &countingPlaylog{PlaylogStore: f.repos.Playlog, afterInsert: cancel}
	deps := f.deps
	deps.Playlog = playlog
	deps.Store = nil
	daemon := NewDaemon("retro", f.cfg, deps)

	result, err := daemon.ExtendToTarget(ctx, ms(10*time.Minute), ms(3*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.BlocksWritten)

	end, err := f.repos.Playlog.FarthestEnd(context.Background(), "retro")
	require.NoError(t, err)
	assert.Equal(t, ms(time.Hour), end, "only the first block was written")

	playlog.afterInsert = nil
	resumed, err := daemon.ExtendToTarget(context.Background(), ms(10*time.Minute), ms(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.BlocksWritten)
	assert.Equal(t, 0, resumed.Republished)
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name    string
		covered []span
		want    []span
	}{
		{"nothing covered", nil, []span{{0, 100}}},
		{"head covered", []span{{0, 20}}, []span{{20, 100}}},
		{"middle covered", []span{{40, 60}}, []span{{0, 40}, {60, 100}}},
		{"overlapping covers", []span{{50, 70}, {10, 60}}, []span{{0, 10}, {70, 100}}},
		{"outside range", []span{{-50, -10}, {100, 120}}, []span{{0, 100}}},
		{"fully covered", []span{{-10, 40}, {40, 110}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, subtract(0, 100, tt.covered))
		})
	}
}

func TestClipEntries(t *testing.T) {
	entries := []execution.Entry{
		{Index: 0, StartMs: 0, EndMs: 50, Segment: execution.SegmentPayload{AssetOffsetMs: 1000}},
		{Index: 1, StartMs: 50, EndMs: 100},
	}

	clipped := clipEntries(entries, 30, 60)
	require.Len(t, clipped, 2)
	assert.Equal(t, int64(30), clipped[0].StartMs)
	assert.Equal(t, int64(1030), clipped[0].Segment.AssetOffsetMs)
	assert.Equal(t, int64(60), clipped[1].EndMs)
	assert.Equal(t, int64(0), entries[0].StartMs, "input is not modified")

	assert.Empty(t, clipEntries(entries, 100, 200))
}

func TestDaemon_GuardsAndLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.daemon.extending.Store(true)
	_, err := f.daemon.ExtendToTarget(ctx, ms(0), ms(time.Hour))
	assert.ErrorIs(t, err, ErrExtensionInProgress)
	f.daemon.extending.Store(false)

	other := flock.New(filepath.Join(f.cfg.LockDir, "horizon-retro.lock"))
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.daemon.ExtendToTarget(ctx, ms(0), ms(time.Hour))
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.False(t, f.daemon.Status().Extending)

	require.NoError(t, other.Unlock())
	result, err := f.daemon.ExtendToTarget(ctx, ms(0), ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlocksWritten)
}

func TestRunPass_WritesArtifactsAndRebuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.daemon.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.BlocksWritten)

	writer := txlog.NewWriter(f.cfg.ArtifactDir)
	days, err := writer.Days("retro")
	require.NoError(t, err)
	require.NotEmpty(t, days)
	for _, day := range days {
		assert.NoError(t, writer.VerifyDay("retro", day))
	}

	status := f.daemon.Status()
	assert.Equal(t, testEpoch.Add(3*time.Hour+30*time.Minute), status.FarthestEnd)
	assert.Equal(t, days, status.Days)
	assert.Empty(t, status.LastPassError)

	restarted := NewDaemon("retro", f.cfg, f.deps)
	require.NoError(t, restarted.Rebuild(ctx))
	assert.Equal(t, status.FarthestEnd, restarted.Status().FarthestEnd)
	assert.Equal(t, status.Days, restarted.Status().Days)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.daemon.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return !f.daemon.Status().LastPassAt.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	covered, err := f.repos.Playlog.CoversTime(context.Background(), "retro", f.clock.Now().UnixMilli())
	require.NoError(t, err)
	assert.True(t, covered)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
