// Package horizon keeps a rolling window of each channel's transmission log
// written ahead of the clock and published to the execution window store.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/models"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
	"github.com/stwalsh4118/hermes-playout/internal/txlog"
)

// BlockSource provides compiled blocks
type BlockSource interface {
	ProgramAt(channelID string, t time.Time) (schedule.Block, error)
	BlocksInRange(channelID string, start, end time.Time) ([]schedule.Block, error)
	Interstitials(channelID string) ([]schedule.Segment, error)
}

// PlaylogStore persists transmission log rows
type PlaylogStore interface {
	ExistingBlockIDs(ctx context.Context, channelID string, blockIDs []string) (map[string]bool, error)
	CoversTime(ctx context.Context, channelID string, ms int64) (bool, error)
	InsertBlock(ctx context.Context, events []*models.PlaylogEvent) (int64, error)
	FarthestEnd(ctx context.Context, channelID string) (int64, error)
	ProgrammingDays(ctx context.Context, channelID string) ([]string, error)
	EventsForDay(ctx context.Context, channelID, day string) ([]*models.PlaylogEvent, error)
}

// Deps are the collaborators of a Daemon. Store and Artifacts are optional.
type Deps struct {
	Clock     clock.MasterClock
	Schedule  BlockSource
	Playlog   PlaylogStore
	Store     execution.Store
	Artifacts *txlog.Writer
	Metrics   *metrics.Metrics
}

// PassResult summarizes one extension or repair pass
type PassResult struct {
	BlocksWritten   int      `json:"blocks_written"`
	EventsWritten   int64    `json:"events_written"`
	Published       int      `json:"published"`
	Republished     int      `json:"republished"`
	SkippedOverride int      `json:"skipped_override"`
	Days            []string `json:"days,omitempty"`
}

func (r *PassResult) merge(other PassResult) {
	r.BlocksWritten += other.BlocksWritten
	r.EventsWritten += other.EventsWritten
	r.Published += other.Published
	r.Republished += other.Republished
	r.SkippedOverride += other.SkippedOverride
	r.Days = append(r.Days, other.Days...)
}

// Status is a snapshot of the daemon's in-memory horizon state
type Status struct {
	ChannelID     string    `json:"channel_id"`
	FarthestEnd   time.Time `json:"farthest_end"`
	Days          []string  `json:"programming_days"`
	Extending     bool      `json:"extending"`
	LastPassAt    time.Time `json:"last_pass_at,omitempty"`
	LastPassError string    `json:"last_pass_error,omitempty"`
}

// Daemon extends one channel's transmission log
type Daemon struct {
	channelID string
	cfg       config.HorizonConfig
	deps      Deps
	lock      *flock.Flock
	log       zerolog.Logger

	extending atomic.Bool

	mu          sync.RWMutex
	farthestEnd int64
	days        map[string]bool
	lastPassAt  time.Time
	lastPassErr error
}

// NewDaemon creates a daemon for one channel
func NewDaemon(channelID string, cfg config.HorizonConfig, deps Deps) *Daemon {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}
	return &Daemon{
		channelID: channelID,
		cfg:       cfg,
		deps:      deps,
		lock:      flock.New(filepath.Join(lockDir, fmt.Sprintf("horizon-%s.lock", channelID))),
		log:       logger.Channel("horizon", channelID),
		days:      make(map[string]bool),
	}
}

// ChannelID returns the channel this daemon extends
func (d *Daemon) ChannelID() string {
	return d.channelID
}

// Rebuild restores the horizon state from the persisted log
func (d *Daemon) Rebuild(ctx context.Context) error {
	end, err := d.deps.Playlog.FarthestEnd(ctx, d.channelID)
	if err != nil {
		return err
	}
	days, err := d.deps.Playlog.ProgrammingDays(ctx, d.channelID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.farthestEnd = end
	d.days = make(map[string]bool, len(days))
	for _, day := range days {
		d.days[day] = true
	}
	d.mu.Unlock()

	d.log.Info().
		Time("farthest_end", clock.FromMilli(end)).
		Int("programming_days", len(days)).
		Msg("Horizon state rebuilt from playlog")
	return nil
}

// ExtendToTarget writes every missing block in [nowMs, targetMs)
func (d *Daemon) ExtendToTarget(ctx context.Context, nowMs, targetMs int64) (PassResult, error) {
	release, err := d.begin()
	if err != nil {
		return PassResult{}, err
	}
	defer release()

	result, err := d.extend(ctx, nowMs, targetMs)
	d.finish(ctx, result, err)
	return result, err
}

// EnsureCoversNow writes the block containing nowMs when no persisted row covers it.
// Wholly past blocks are never written.
func (d *Daemon) EnsureCoversNow(ctx context.Context, nowMs int64) (PassResult, error) {
	release, err := d.begin()
	if err != nil {
		return PassResult{}, err
	}
	defer release()

	result, err := d.ensureCoversNow(ctx, nowMs)
	d.finish(ctx, result, err)
	return result, err
}

// RunPass repairs the current instant and extends to now + MinHours
func (d *Daemon) RunPass(ctx context.Context) (PassResult, error) {
	release, err := d.begin()
	if err != nil {
		return PassResult{}, err
	}
	defer release()

	nowMs := d.deps.Clock.Now().UnixMilli()
	result, err := d.ensureCoversNow(ctx, nowMs)
	if err == nil {
		var extended PassResult
		extended, err = d.extend(ctx, nowMs, nowMs+d.target().Milliseconds())
		result.merge(extended)
	}
	d.finish(ctx, result, err)
	return result, err
}

// Run executes a pass immediately and then every CheckInterval until ctx is done
func (d *Daemon) Run(ctx context.Context) {
	interval := d.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", interval).Dur("target", d.target()).Msg("Horizon daemon started")

	for {
		if _, err := d.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn().Err(err).Msg("Horizon pass failed")
		}

		select {
		case <-ctx.Done():
			d.log.Info().Msg("Horizon daemon stopped")
			return
		case <-ticker.C:
		}
	}
}

// Status returns a snapshot of the horizon state
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	days := make([]string, 0, len(d.days))
	for day := range d.days {
		days = append(days, day)
	}
	sort.Strings(days)

	st := Status{
		ChannelID:  d.channelID,
		Days:       days,
		Extending:  d.extending.Load(),
		LastPassAt: d.lastPassAt,
	}
	if d.farthestEnd > 0 {
		st.FarthestEnd = clock.FromMilli(d.farthestEnd)
	}
	if d.lastPassErr != nil {
		st.LastPassError = d.lastPassErr.Error()
	}
	return st
}

func (d *Daemon) target() time.Duration {
	hours := d.cfg.MinHours
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}

// begin takes the in-process guard and the cross-process file lock
func (d *Daemon) begin() (func(), error) {
	if !d.extending.CompareAndSwap(false, true) {
		return nil, ErrExtensionInProgress
	}

	if err := os.MkdirAll(filepath.Dir(d.lock.Path()), 0o755); err != nil {
		d.extending.Store(false)
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		d.extending.Store(false)
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		d.extending.Store(false)
		return nil, ErrLockHeld
	}

	return func() {
		if err := d.lock.Unlock(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to release horizon lock")
		}
		d.extending.Store(false)
	}, nil
}

func (d *Daemon) finish(ctx context.Context, result PassResult, passErr error) {
	outcome := "ok"
	switch {
	case passErr != nil:
		outcome = "error"
	case result.BlocksWritten == 0 && result.Republished == 0:
		outcome = "noop"
	}
	d.deps.Metrics.IncHorizonPass(d.channelID, outcome)

	if result.BlocksWritten > 0 {
		d.rewriteArtifacts(ctx, result.Days)
	}

	d.mu.Lock()
	d.lastPassAt = d.deps.Clock.Now()
	d.lastPassErr = passErr
	d.mu.Unlock()
}

func (d *Daemon) extend(ctx context.Context, nowMs, targetMs int64) (PassResult, error) {
	var result PassResult
	if targetMs <= nowMs {
		return result, nil
	}

	blocks, err := d.deps.Schedule.BlocksInRange(d.channelID, clock.FromMilli(nowMs), clock.FromMilli(targetMs))
	if err != nil {
		return result, fmt.Errorf("failed to load blocks: %w", err)
	}
	if len(blocks) == 0 {
		return result, nil
	}

	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	existing, err := d.deps.Playlog.ExistingBlockIDs(ctx, d.channelID, ids)
	if err != nil {
		return result, err
	}
	window, err := d.publishedWindow(ctx, blocks, existing)
	if err != nil {
		return result, err
	}

	for _, b := range blocks {
		if !b.End.After(clock.FromMilli(nowMs)) {
			continue
		}

		if existing[b.ID] {
			// A block on file whose publish never landed is republished
			if d.deps.Store == nil || !hasGap(window, b) {
				continue
			}
			repaired, err := d.republishBlock(ctx, b)
			result.merge(repaired)
			if err != nil {
				return result, err
			}
			if err := d.yield(ctx); err != nil {
				return result, err
			}
			continue
		}

		written, err := d.writeBlock(ctx, b, execution.ReasonHorizonExtend)
		result.merge(written)
		if err != nil {
			return result, err
		}

		if err := d.yield(ctx); err != nil {
			return result, err
		}
	}

	if result.BlocksWritten > 0 || result.Republished > 0 {
		d.log.Info().
			Int("blocks", result.BlocksWritten).
			Int("republished", result.Republished).
			Int64("events", result.EventsWritten).
			Time("target", clock.FromMilli(targetMs)).
			Msg("Extended transmission log")
	}
	return result, nil
}

func (d *Daemon) ensureCoversNow(ctx context.Context, nowMs int64) (PassResult, error) {
	covered, err := d.deps.Playlog.CoversTime(ctx, d.channelID, nowMs)
	if err != nil {
		return PassResult{}, err
	}
	if covered {
		return PassResult{}, nil
	}

	b, err := d.deps.Schedule.ProgramAt(d.channelID, clock.FromMilli(nowMs))
	if err != nil {
		return PassResult{}, fmt.Errorf("failed to resolve current block: %w", err)
	}
	existing, err := d.deps.Playlog.ExistingBlockIDs(ctx, d.channelID, []string{b.ID})
	if err != nil {
		return PassResult{}, err
	}
	if existing[b.ID] {
		return PassResult{}, nil
	}

	d.log.Warn().
		Str("block_id", b.ID).
		Time("now", clock.FromMilli(nowMs)).
		Msg("Transmission log does not cover now, backfilling current block")
	return d.writeBlock(ctx, b, execution.ReasonHorizonRepair)
}

// publishedWindow reads the store entries under the blocks already on file.
// It returns nil when nothing needs checking.
func (d *Daemon) publishedWindow(ctx context.Context, blocks []schedule.Block, existing map[string]bool) ([]execution.Entry, error) {
	if d.deps.Store == nil || len(existing) == 0 {
		return nil, nil
	}
	startMs, endMs := blocks[0].Start.UnixMilli(), blocks[len(blocks)-1].End.UnixMilli()
	window, err := d.deps.Store.ReadWindowSnapshot(ctx, d.channelID, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution window: %w", err)
	}
	return window, nil
}

// hasGap reports whether part of the block has no entry in window
func hasGap(window []execution.Entry, b schedule.Block) bool {
	startMs, endMs := b.Start.UnixMilli(), b.End.UnixMilli()
	return len(subtract(startMs, endMs, spansOf(window))) > 0
}

// plan expands a block into playlog rows and the matching execution entries
func (d *Daemon) plan(b schedule.Block) ([]*models.PlaylogEvent, []execution.Entry, error) {
	interstitials, err := d.deps.Schedule.Interstitials(d.channelID)
	if err != nil {
		return nil, nil, err
	}
	items := NewFiller(interstitials).Fill(b)

	events := make([]*models.PlaylogEvent, len(items))
	entries := make([]execution.Entry, len(items))
	for i, item := range items {
		id := EventID(d.channelID, b.ID, item.Index)
		events[i] = &models.PlaylogEvent{
			ID:             id,
			ChannelID:      d.channelID,
			BlockID:        b.ID,
			Index:          item.Index,
			ProgrammingDay: b.ProgrammingDay,
			StartMs:        item.Start.UnixMilli(),
			EndMs:          item.End.UnixMilli(),
			AssetPath:      item.AssetPath,
			AssetOffsetMs:  item.Offset.Milliseconds(),
			Title:          item.Title,
			Kind:           item.Kind,
		}
		entries[i] = execution.Entry{
			BlockID: b.ID,
			Index:   item.Index,
			StartMs: item.Start.UnixMilli(),
			EndMs:   item.End.UnixMilli(),
			Segment: execution.SegmentPayload{
				AssetPath:     item.AssetPath,
				AssetOffsetMs: item.Offset.Milliseconds(),
				Title:         item.Title,
				Kind:          item.Kind,
				EventID:       id.String(),
			},
			ProgrammingDay: b.ProgrammingDay,
		}
	}
	return events, entries, nil
}

// writeBlock persists one block and publishes it around any operator override
func (d *Daemon) writeBlock(ctx context.Context, b schedule.Block, reason string) (PassResult, error) {
	var result PassResult

	events, entries, err := d.plan(b)
	if err != nil {
		return result, err
	}

	inserted, err := d.deps.Playlog.InsertBlock(ctx, events)
	if err != nil {
		return result, err
	}
	result.BlocksWritten = 1
	result.EventsWritten = inserted
	result.Days = []string{b.ProgrammingDay}
	d.deps.Metrics.AddHorizonBlocks(d.channelID, 1)

	d.mu.Lock()
	if end := b.End.UnixMilli(); end > d.farthestEnd {
		d.farthestEnd = end
	}
	d.days[b.ProgrammingDay] = true
	d.mu.Unlock()

	if d.deps.Store == nil {
		return result, nil
	}
	published, overridden, err := d.publishBlock(ctx, b, entries, reason)
	result.Published = published
	if overridden {
		result.SkippedOverride = 1
	}
	return result, err
}

// republishBlock publishes a block already on file whose entries are missing from the store
func (d *Daemon) republishBlock(ctx context.Context, b schedule.Block) (PassResult, error) {
	var result PassResult

	_, entries, err := d.plan(b)
	if err != nil {
		return result, err
	}
	d.log.Warn().Str("block_id", b.ID).Msg("Block on file is missing from execution window, republishing")

	published, overridden, err := d.publishBlock(ctx, b, entries, execution.ReasonHorizonRepair)
	result.Published = published
	if overridden {
		result.SkippedOverride = 1
	}
	if err == nil {
		result.Republished = 1
	}
	return result, err
}

// publishBlock replaces the block's range in the store except where operator
// overrides sit. Each uncovered sub-range is published separately.
func (d *Daemon) publishBlock(ctx context.Context, b schedule.Block, entries []execution.Entry, reason string) (int, bool, error) {
	startMs, endMs := b.Start.UnixMilli(), b.End.UnixMilli()
	owned, err := execution.Overrides(ctx, d.deps.Store, d.channelID, startMs, endMs)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read execution window: %w", err)
	}
	overrides := spansOf(owned)
	if len(overrides) > 0 {
		d.log.Info().
			Str("block_id", b.ID).
			Int("overrides", len(overrides)).
			Msg("Block overlaps operator override, publishing around it")
	}

	published := 0
	for _, r := range subtract(startMs, endMs, overrides) {
		pub, err := execution.PublishNext(ctx, d.deps.Store, execution.PublishRequest{
			ChannelID:    d.channelID,
			RangeStartMs: r.start,
			RangeEndMs:   r.end,
			Entries:      clipEntries(entries, r.start, r.end),
			ReasonCode:   reason,
		})
		if err != nil {
			return published, len(overrides) > 0, fmt.Errorf("failed to publish block %s: %w", b.ID, err)
		}
		published++
		d.log.Debug().
			Str("block_id", b.ID).
			Int64("generation", pub.GenerationID).
			Int("entries", pub.Inserted).
			Msg("Published block to execution window")
	}
	return published, len(overrides) > 0, nil
}

func (d *Daemon) yield(ctx context.Context) error {
	if d.cfg.YieldInterval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.cfg.YieldInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rewriteArtifacts regenerates the text log and sidecar for each affected day
func (d *Daemon) rewriteArtifacts(ctx context.Context, days []string) {
	if d.deps.Artifacts == nil {
		return
	}

	var generation int64
	if d.deps.Store != nil {
		gen, err := d.deps.Store.CurrentGeneration(ctx, d.channelID)
		if err == nil {
			generation = gen
		}
	}

	seen := make(map[string]bool, len(days))
	for _, day := range days {
		if seen[day] {
			continue
		}
		seen[day] = true

		rows, err := d.deps.Playlog.EventsForDay(ctx, d.channelID, day)
		if err != nil {
			d.log.Warn().Err(err).Str("day", day).Msg("Failed to load events for transmission log")
			continue
		}
		header := txlog.Header{ChannelID: d.channelID, Date: day, Generation: generation}
		if err := d.deps.Artifacts.WriteDay(header, ArtifactEvents(rows)); err != nil {
			d.log.Warn().Err(err).Str("day", day).Msg("Failed to write transmission log")
		}
	}
}

// ArtifactEvents converts persisted rows into transmission log events
func ArtifactEvents(rows []*models.PlaylogEvent) []txlog.Event {
	events := make([]txlog.Event, len(rows))
	for i, row := range rows {
		events[i] = txlog.Event{
			ID:            row.ID.String(),
			BlockID:       row.BlockID,
			Index:         row.Index,
			Start:         row.Start(),
			End:           row.End(),
			Kind:          row.Kind,
			AssetPath:     row.AssetPath,
			AssetOffsetMs: row.AssetOffsetMs,
			Title:         row.Title,
		}
	}
	return events
}
