// Package director owns the registry of live channels. It admits viewers, starts a
// channel manager, producer and stream on first join, ticks every manager from one
// shared loop, and destroys a channel when its last viewer leaves.
package director

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/playout"
	"github.com/stwalsh4118/hermes-playout/internal/renderer"
	"golang.org/x/sync/semaphore"
)

const (
	defaultTeardownTimeout  = 500 * time.Millisecond
	breakerFailureThreshold = 3
	breakerResetTimeout     = 30 * time.Second
)

// Teardown reasons
const (
	ReasonLastViewer       = "last_viewer"
	ReasonGraceExpired     = "grace_expired"
	ReasonTerminalFailure  = "terminal_failure"
	ReasonDirectorShutdown = "shutdown"
)

// Deps are the collaborators of a ProgramDirector. Store, AsRun and Metrics are optional.
type Deps struct {
	Clock    clock.MasterClock
	Schedule ScheduleSource
	Store    execution.Store
	Factory  renderer.Factory
	AsRun    playout.AsRunRecorder
	Metrics  *metrics.Metrics
}

// Session is a viewer attached to a channel
type Session struct {
	ViewerID   string
	ChannelID  string
	InstanceID string
	Viewer     *Viewer
}

// ChannelInfo describes a lineup channel and its live state, if any
type ChannelInfo struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Loaded bool                   `json:"loaded"`
	Live   bool                   `json:"live"`
	Status *playout.ManagerStatus `json:"status,omitempty"`
}

type channelEntry struct {
	manager *playout.ChannelManager
	stream  *ChannelStream
	busy    atomic.Bool
}

// ProgramDirector is the registry of live channels
type ProgramDirector struct {
	playoutCfg   config.PlayoutConfig
	streamingCfg config.StreamingConfig
	deps         Deps
	gate         *semaphore.Weighted

	mu       sync.Mutex
	channels map[string]*channelEntry
	starting map[string]chan struct{}
	breakers map[string]*CircuitBreaker
	running  bool
	stopped  bool

	stopChan chan struct{}
	loopDone chan struct{}
}

// NewProgramDirector creates a director
func NewProgramDirector(playoutCfg config.PlayoutConfig, streamingCfg config.StreamingConfig, deps Deps) *ProgramDirector {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if streamingCfg.AdmissionCapacity <= 0 {
		streamingCfg.AdmissionCapacity = 1
	}
	if streamingCfg.TeardownTimeout <= 0 {
		streamingCfg.TeardownTimeout = defaultTeardownTimeout
	}
	return &ProgramDirector{
		playoutCfg:   playoutCfg,
		streamingCfg: streamingCfg,
		deps:         deps,
		gate:         semaphore.NewWeighted(int64(streamingCfg.AdmissionCapacity)),
		channels:     make(map[string]*channelEntry),
		starting:     make(map[string]chan struct{}),
		breakers:     make(map[string]*CircuitBreaker),
		stopChan:     make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
}

// Start launches the shared tick loop
func (d *ProgramDirector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDirectorStopped
	}
	if d.running {
		return nil
	}
	d.running = true
	go d.runTickLoop()

	logger.Log.Info().
		Dur("tick_interval", d.playoutCfg.TickInterval).
		Int("admission_capacity", d.streamingCfg.AdmissionCapacity).
		Msg("Program director started")
	return nil
}

// Stop ends the tick loop and tears down every live channel
func (d *ProgramDirector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	running := d.running
	entries := make(map[string]*channelEntry, len(d.channels))
	for id, e := range d.channels {
		entries[id] = e
	}
	d.mu.Unlock()

	logger.Log.Info().Msg("Stopping program director...")
	close(d.stopChan)
	if running {
		<-d.loopDone
	}

	for id, e := range entries {
		d.destroy(id, e, ReasonDirectorShutdown)
	}
	logger.Log.Info().Int("stopped_channels", len(entries)).Msg("Program director stopped")
}

// Join admits a viewer to a channel, starting the channel if it is not live.
// Admission fails fast when the start-up gate is full. An empty viewerID gets a
// generated one.
func (d *ProgramDirector) Join(ctx context.Context, channelID, viewerID string) (*Session, error) {
	if !d.gate.TryAcquire(1) {
		d.deps.Metrics.IncAdmission(false)
		logger.Log.Warn().Str("channel_id", channelID).Msg("Admission gate full, rejecting viewer")
		return nil, ErrAdmissionRejected
	}
	defer d.gate.Release(1)
	d.deps.Metrics.IncAdmission(true)

	// Only an already-compiled block is looked up here
	now := d.deps.Clock.Now()
	block, err := d.deps.Schedule.ProgramAt(channelID, now)
	if err != nil {
		return nil, err
	}

	if viewerID == "" {
		viewerID = uuid.NewString()
	}
	for {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return nil, ErrDirectorStopped
		}
		if e, ok := d.channels[channelID]; ok {
			session, err := d.attachLocked(channelID, e, viewerID)
			d.mu.Unlock()
			return session, err
		}
		if wait, ok := d.starting[channelID]; ok {
			d.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := make(chan struct{})
		d.starting[channelID] = wait
		d.mu.Unlock()

		e, err := d.spawn(ctx, channelID)

		d.mu.Lock()
		delete(d.starting, channelID)
		close(wait)
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		if d.stopped {
			d.mu.Unlock()
			d.closeEntry(channelID, e)
			return nil, ErrDirectorStopped
		}
		d.channels[channelID] = e
		session, err := d.attachLocked(channelID, e, viewerID)
		active := len(d.channels)
		d.mu.Unlock()

		d.deps.Metrics.SetActiveChannels(active)
		logger.Log.Info().
			Str("channel_id", channelID).
			Str("instance_id", e.manager.InstanceID()).
			Str("block_id", block.ID).
			Dur("join_offset", now.Sub(block.Start)).
			Msg("Channel started")
		return session, err
	}
}

// Leave detaches a viewer. The last viewer leaving tears the channel down, or
// defers teardown while a boundary is in flight. Repeated calls are harmless.
func (d *ProgramDirector) Leave(channelID, viewerID string) {
	d.mu.Lock()
	e, ok := d.channels[channelID]
	if !ok {
		d.mu.Unlock()
		return
	}
	e.stream.Detach(viewerID)
	if !e.manager.RemoveViewer(viewerID) {
		d.mu.Unlock()
		return
	}
	remaining := e.manager.ViewerCount()
	d.deps.Metrics.SetViewers(channelID, remaining)

	if remaining > 0 || !e.manager.RequestTeardown(ReasonLastViewer) {
		d.mu.Unlock()
		return
	}
	delete(d.channels, channelID)
	active := len(d.channels)
	d.mu.Unlock()

	d.deps.Metrics.SetActiveChannels(active)
	d.closeEntry(channelID, e)
	d.deps.Metrics.IncTeardown(ReasonLastViewer)
}

// Channels lists every lineup channel with its live status
func (d *ProgramDirector) Channels() []ChannelInfo {
	lineup := d.deps.Schedule.Channels()

	d.mu.Lock()
	live := make(map[string]*channelEntry, len(d.channels))
	for id, e := range d.channels {
		live[id] = e
	}
	d.mu.Unlock()

	infos := make([]ChannelInfo, 0, len(lineup))
	for _, ch := range lineup {
		info := ChannelInfo{ID: ch.ID, Name: ch.Name, Loaded: ch.Loaded}
		if e, ok := live[ch.ID]; ok {
			st := e.manager.Status()
			info.Live = true
			info.Status = &st
		}
		infos = append(infos, info)
	}
	return infos
}

// Status returns the live status of one channel
func (d *ProgramDirector) Status(channelID string) (playout.ManagerStatus, bool) {
	d.mu.Lock()
	e, ok := d.channels[channelID]
	d.mu.Unlock()
	if !ok {
		return playout.ManagerStatus{}, false
	}
	return e.manager.Status(), true
}

// LiveChannels returns the ids of registered channels in sorted order
func (d *ProgramDirector) LiveChannels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ViewerCounts returns the attached viewers per live channel
func (d *ProgramDirector) ViewerCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[string]int, len(d.channels))
	for id, e := range d.channels {
		counts[id] = e.manager.ViewerCount()
	}
	return counts
}

// attachLocked adds a viewer to a live entry. Must hold d.mu.
func (d *ProgramDirector) attachLocked(channelID string, e *channelEntry, viewerID string) (*Session, error) {
	if e.manager.State() == playout.StateFailedTerminal || e.manager.Teardown().Pending {
		return nil, fmt.Errorf("channel %s is shutting down: %w", channelID, ErrChannelUnavailable)
	}
	v, err := e.stream.Attach(viewerID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrChannelUnavailable)
	}
	e.manager.AddViewer(viewerID)
	d.deps.Metrics.SetViewers(channelID, e.manager.ViewerCount())

	return &Session{
		ViewerID:   viewerID,
		ChannelID:  channelID,
		InstanceID: e.manager.InstanceID(),
		Viewer:     v,
	}, nil
}

// spawn builds and starts the producer, manager and stream for a channel
func (d *ProgramDirector) spawn(ctx context.Context, channelID string) (*channelEntry, error) {
	producer, err := d.deps.Factory(channelID)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}

	startCtx := ctx
	if d.playoutCfg.RendererTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, d.playoutCfg.RendererTimeout)
		defer cancel()
	}

	breaker := d.breaker(channelID)
	if err := breaker.Call(func() error { return producer.Start(startCtx) }); err != nil {
		_ = producer.Stop(context.Background())
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("channel %s: %w: %v", channelID, ErrChannelUnavailable, err)
		}
		logger.Log.Error().
			Err(err).
			Str("channel_id", channelID).
			Int("failures", breaker.Failures()).
			Msg("Failed to start producer")
		return nil, fmt.Errorf("channel %s: start producer: %w", channelID, err)
	}

	manager := playout.NewChannelManager(channelID, d.playoutCfg, playout.ManagerDeps{
		Clock:    d.deps.Clock,
		Producer: producer,
		Lookup:   NewSegmentLookup(channelID, d.deps.Schedule, d.deps.Store),
		Metrics:  d.deps.Metrics,
		AsRun:    d.deps.AsRun,
	})

	e := &channelEntry{manager: manager}
	// Overflow is reported from the reader loop, which teardown waits on
	e.stream = NewChannelStream(channelID, producer.Output(), d.streamingCfg.ViewerBuffer, func(viewerID string) {
		go d.Leave(channelID, viewerID)
	})
	e.stream.Start()
	return e, nil
}

func (d *ProgramDirector) breaker(channelID string) *CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[channelID]
	if !ok {
		cb = NewCircuitBreaker(breakerFailureThreshold, breakerResetTimeout, d.deps.Clock)
		d.breakers[channelID] = cb
	}
	return cb
}

// Breaker returns the start-up circuit breaker of a channel
func (d *ProgramDirector) Breaker(channelID string) *CircuitBreaker {
	return d.breaker(channelID)
}

// destroy removes e from the registry if it is still registered and releases it
func (d *ProgramDirector) destroy(channelID string, e *channelEntry, reason string) {
	d.mu.Lock()
	if cur, ok := d.channels[channelID]; !ok || cur != e {
		d.mu.Unlock()
		return
	}
	delete(d.channels, channelID)
	active := len(d.channels)
	d.mu.Unlock()

	d.deps.Metrics.SetActiveChannels(active)
	d.closeEntry(channelID, e)
	d.deps.Metrics.IncTeardown(reason)

	logger.Log.Info().
		Str("channel_id", channelID).
		Str("instance_id", e.manager.InstanceID()).
		Str("reason", reason).
		Msg("Channel torn down")
}

// closeEntry disconnects viewers, stops the producer and waits for the reader loop,
// all within the teardown timeout
func (d *ProgramDirector) closeEntry(channelID string, e *channelEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.streamingCfg.TeardownTimeout)
	defer cancel()

	e.stream.Close()
	if err := e.manager.Close(ctx); err != nil {
		logger.Log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to stop producer cleanly")
	}

	select {
	case <-e.stream.Done():
	case <-ctx.Done():
		logger.Log.Warn().
			Str("channel_id", channelID).
			Dur("timeout", d.streamingCfg.TeardownTimeout).
			Msg("Stream reader did not exit before teardown timeout")
	}
	d.deps.Metrics.SetViewers(channelID, 0)
}

func (d *ProgramDirector) runTickLoop() {
	defer close(d.loopDone)

	interval := d.playoutCfg.TickInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.tickAll(context.Background())
		}
	}
}

// tickAll ticks every registered manager in its own goroutine and enforces
// teardown deadlines and terminal failures. The returned func waits for the
// ticks started by this call.
func (d *ProgramDirector) tickAll(ctx context.Context) func() {
	now := d.deps.Clock.Now()

	d.mu.Lock()
	entries := make(map[string]*channelEntry, len(d.channels))
	for id, e := range d.channels {
		entries[id] = e
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range entries {
		if e.manager.TeardownDue(now) {
			info := e.manager.Teardown()
			reason := info.Reason
			if !e.manager.State().IsStable() {
				reason = ReasonGraceExpired
			}
			d.destroy(id, e, reason)
			continue
		}
		if e.manager.State() == playout.StateFailedTerminal {
			d.failChannel(id, e)
			continue
		}
		if !e.busy.CompareAndSwap(false, true) {
			continue
		}

		wg.Add(1)
		go func(id string, e *channelEntry) {
			defer wg.Done()
			defer e.busy.Store(false)

			if err := e.manager.Tick(ctx); err != nil {
				var fatal *playout.FatalError
				if errors.As(err, &fatal) {
					d.failChannel(id, e)
					return
				}
				logger.Log.Warn().Err(err).Str("channel_id", id).Msg("Channel tick failed")
			}
		}(id, e)
	}
	return wg.Wait
}

// failChannel surfaces the pending fatal error and ends the channel so viewers see EOF
func (d *ProgramDirector) failChannel(channelID string, e *channelEntry) {
	logger.Log.Error().
		Err(e.manager.PendingFatal()).
		Str("channel_id", channelID).
		Str("instance_id", e.manager.InstanceID()).
		Int("viewers", e.manager.ViewerCount()).
		Msg("Channel failed, ending stream")
	d.destroy(channelID, e, ReasonTerminalFailure)
}
