package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/renderer"
)

// ManagerDeps holds a channel manager's collaborators
type ManagerDeps struct {
	Clock    clock.MasterClock
	Producer renderer.Producer
	Lookup   SegmentLookup
	Metrics  *metrics.Metrics
	AsRun    AsRunRecorder
}

// TeardownInfo describes a deferred teardown request
type TeardownInfo struct {
	Pending  bool      `json:"pending"`
	Deadline time.Time `json:"deadline,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// ManagerStatus is a point-in-time view of a channel manager
type ManagerStatus struct {
	ChannelID    string        `json:"channel_id"`
	InstanceID   string        `json:"instance_id"`
	State        BoundaryState `json:"state"`
	Segment      Segment       `json:"segment"`
	SegmentEnd   time.Time     `json:"segment_end"`
	Viewers      int           `json:"viewers"`
	PendingFatal string        `json:"pending_fatal,omitempty"`
	Teardown     TeardownInfo  `json:"teardown"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ChannelManager drives one channel's boundaries. It layers at-most-once issuance,
// permanent failure isolation and deferred teardown over a SegmentOrchestrator.
//
// tickMu serializes ticks and the RPCs they issue. mu guards the fields below it and is
// never held across an RPC, so teardown requests and status reads never wait on the renderer.
type ChannelManager struct {
	channelID  string
	instanceID string
	createdAt  time.Time
	cfg        config.PlayoutConfig
	deps       ManagerDeps
	orch       *SegmentOrchestrator
	log        zerolog.Logger

	tickMu sync.Mutex

	mu               sync.Mutex
	state            BoundaryState
	segment          Segment
	segmentEnd       time.Time
	lastBoundary     time.Time
	hasBoundary      bool
	previewIssuedAt  time.Time
	pendingFatal     error
	teardownPending  bool
	teardownDeadline time.Time
	teardownReason   string
	viewers          map[string]struct{}
	closed           bool
}

// NewChannelManager creates a manager for channelID. Managers are never reused; a
// torn-down channel gets a new instance on the next join.
func NewChannelManager(channelID string, cfg config.PlayoutConfig, deps ManagerDeps) *ChannelManager {
	m := &ChannelManager{
		channelID:  channelID,
		instanceID: uuid.NewString(),
		createdAt:  deps.Clock.Now(),
		cfg:        cfg,
		deps:       deps,
		log:        logger.Channel("playout", channelID),
		state:      StateNone,
		viewers:    make(map[string]struct{}),
	}
	m.orch = NewSegmentOrchestrator(deps.Clock, cfg.PrefeedWindow, deps.Lookup, managerIssuer{m})
	return m
}

// ChannelID returns the channel this manager drives
func (m *ChannelManager) ChannelID() string {
	return m.channelID
}

// InstanceID identifies this manager instance
func (m *ChannelManager) InstanceID() string {
	return m.instanceID
}

// Producer returns the renderer handle owned by this manager
func (m *ChannelManager) Producer() renderer.Producer {
	return m.deps.Producer
}

// State returns the current boundary state
func (m *ChannelManager) State() BoundaryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingFatal returns the recorded terminal error, if any
func (m *ChannelManager) PendingFatal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingFatal
}

// Tick reads the master clock and issues whatever is due. A manager in
// FAILED_TERMINAL issues nothing; neither does one waiting out a teardown.
func (m *ChannelManager) Tick(ctx context.Context) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	if m.closed || m.state == StateFailedTerminal {
		m.mu.Unlock()
		return nil
	}
	if m.teardownPending && m.state.IsStable() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	now := m.deps.Clock.Now()
	m.deps.Producer.OnPacedTick(now)

	err := m.orch.Tick(ctx)
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		m.log.Warn().Err(err).Msg("Segment lookup failed, retrying next tick")
		return nil
	}
	return err
}

// IssueSwitch applies the issuance guard and, when allowed, sends SwitchToLive.
// A duplicate switch for the boundary already issued is a no-op. Any switch on a
// FAILED_TERMINAL channel is a control-flow bug and is reported as fatal.
func (m *ChannelManager) IssueSwitch(ctx context.Context, sw Switch) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.issueSwitch(ctx, sw)
}

// RequestTeardown asks the manager to stop. It returns true when teardown may proceed
// now. In a transient state the request is deferred until the state settles or the
// grace window lapses, and false is returned. Repeated requests never move the
// deadline or replace the reason.
func (m *ChannelManager) RequestTeardown(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.teardownPending {
		m.log.Debug().Str("reason", reason).Msg("Teardown already pending, ignoring request")
		return false
	}

	if m.state.IsStable() {
		return true
	}

	now := m.deps.Clock.Now()
	m.teardownPending = true
	m.teardownDeadline = now.Add(m.cfg.GraceWindow)
	m.teardownReason = reason

	m.log.Info().
		Str("state", m.state.String()).
		Str("reason", reason).
		Time("deadline", m.teardownDeadline).
		Msg("Teardown deferred until boundary settles")
	return false
}

// TeardownDue reports whether a deferred teardown can complete: the state became
// stable or the grace deadline lapsed
func (m *ChannelManager) TeardownDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.teardownPending {
		return false
	}
	return m.state.IsStable() || !now.Before(m.teardownDeadline)
}

// Teardown returns the deferred teardown request, if any
func (m *ChannelManager) Teardown() TeardownInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TeardownInfo{
		Pending:  m.teardownPending,
		Deadline: m.teardownDeadline,
		Reason:   m.teardownReason,
	}
}

// Close stops the producer and clears the pending-fatal slot. It is safe to call more
// than once and does not wait for an in-flight tick.
func (m *ChannelManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.pendingFatal = nil
	m.teardownPending = false
	m.mu.Unlock()

	if err := m.deps.Producer.Stop(ctx); err != nil {
		return fmt.Errorf("stop producer: %w", err)
	}
	m.log.Info().Str("instance_id", m.instanceID).Msg("Channel manager closed")
	return nil
}

// AddViewer attaches a viewer session; it returns false if already attached
func (m *ChannelManager) AddViewer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.viewers[id]; ok {
		return false
	}
	m.viewers[id] = struct{}{}
	return true
}

// RemoveViewer detaches a viewer session; it returns false if it was not attached
func (m *ChannelManager) RemoveViewer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.viewers[id]; !ok {
		return false
	}
	delete(m.viewers, id)
	return true
}

// ViewerCount returns the number of attached viewers
func (m *ChannelManager) ViewerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.viewers)
}

// Status returns a snapshot for diagnostics and the channel listing
func (m *ChannelManager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ManagerStatus{
		ChannelID:  m.channelID,
		InstanceID: m.instanceID,
		State:      m.state,
		Segment:    m.segment,
		SegmentEnd: m.segmentEnd,
		Viewers:    len(m.viewers),
		Teardown: TeardownInfo{
			Pending:  m.teardownPending,
			Deadline: m.teardownDeadline,
			Reason:   m.teardownReason,
		},
		CreatedAt: m.createdAt,
	}
	if m.pendingFatal != nil {
		status.PendingFatal = m.pendingFatal.Error()
	}
	return status
}

// transitionLocked moves to next or reports an invalid transition. Must hold m.mu.
func (m *ChannelManager) transitionLocked(next BoundaryState) error {
	if !m.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.state, next)
	}
	m.log.Debug().
		Str("from", m.state.String()).
		Str("to", next.String()).
		Msg("Boundary state transition")
	m.state = next
	return nil
}

// failLocked enters FAILED_TERMINAL and fills the pending-fatal slot. Must hold m.mu.
func (m *ChannelManager) failLocked(op string, boundary time.Time, cause error) error {
	fatal := &FatalError{ChannelID: m.channelID, Boundary: boundary, Op: op, Cause: cause}
	m.state = StateFailedTerminal
	if m.pendingFatal == nil {
		m.pendingFatal = fatal
	}

	m.deps.Metrics.IncTerminalFailure(m.channelID)
	m.log.Error().
		Err(cause).
		Str("op", op).
		Time("boundary", boundary).
		Msg("Channel entered terminal failure")
	return fatal
}

// reentryLocked records an issuance attempt on a dead channel. The original failure
// stays in the slot. Must hold m.mu.
func (m *ChannelManager) reentryLocked(op string, boundary time.Time) error {
	err := &FatalError{ChannelID: m.channelID, Boundary: boundary, Op: op, Cause: ErrReentryAfterTerminal}
	if m.pendingFatal == nil {
		m.pendingFatal = err
	}
	m.log.Error().
		Str("op", op).
		Time("boundary", boundary).
		Msg("Issuance attempted on terminal channel")
	return err
}

func (m *ChannelManager) loadPreview(ctx context.Context, seg Segment) error {
	m.mu.Lock()
	if m.state == StateFailedTerminal {
		err := m.reentryLocked("preview", seg.HardStop)
		m.mu.Unlock()
		return err
	}
	if err := m.transitionLocked(StatePlanned); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.RendererTimeout)
	ok, err := m.deps.Producer.LoadPreview(rpcCtx, seg.PreviewRequest())
	cancel()
	m.deps.Metrics.IncPreview(m.channelID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		return m.failLocked("preview", seg.HardStop, renderer.ClassifyError("preview", err))
	}
	if !ok {
		return m.failLocked("preview", seg.HardStop,
			renderer.NewRendererError(renderer.KindRejected, "preview", "renderer refused preview of "+seg.AssetPath, nil))
	}

	m.previewIssuedAt = m.deps.Clock.Now()
	if err := m.transitionLocked(StatePreloadIssued); err != nil {
		return err
	}
	if err := m.transitionLocked(StateSwitchScheduled); err != nil {
		return err
	}

	m.log.Debug().
		Str("asset", seg.AssetPath).
		Time("hard_stop", seg.HardStop).
		Msg("Preview loaded")
	return nil
}

func (m *ChannelManager) issueSwitch(ctx context.Context, sw Switch) error {
	m.mu.Lock()
	switch {
	case m.state == StateFailedTerminal:
		err := m.reentryLocked("switch", sw.Boundary)
		m.mu.Unlock()
		return err
	case (m.state == StateSwitchIssued || m.state == StateLive) && m.hasBoundary && m.lastBoundary.Equal(sw.Boundary):
		m.mu.Unlock()
		m.log.Debug().Time("boundary", sw.Boundary).Msg("Duplicate switch suppressed")
		return nil
	}
	if err := m.transitionLocked(StateSwitchIssued); err != nil {
		m.mu.Unlock()
		return err
	}
	m.lastBoundary = sw.Boundary
	m.hasBoundary = true
	lead := sw.Boundary.Sub(m.previewIssuedAt)
	m.mu.Unlock()

	if !sw.Bootstrap {
		m.checkLeadTime(sw.Boundary, lead)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.RendererTimeout)
	result, err := m.deps.Producer.SwitchToLive(rpcCtx, sw.Boundary)
	cancel()
	m.deps.Metrics.IncSwitch(m.channelID)

	if err == nil && result.IsProtocolViolation() {
		m.reportViolation(metrics.ViolationRendererStatus, sw.Boundary, lead, result.Message)
	}

	m.mu.Lock()
	if err != nil {
		fatal := m.failLocked("switch", sw.Boundary, renderer.ClassifyError("switch", err))
		m.mu.Unlock()
		return fatal
	}
	if !result.Success {
		fatal := m.failLocked("switch", sw.Boundary, renderer.NewRendererError(renderer.KindRejected, "switch",
			fmt.Sprintf("%s: %s", result.Status, result.Message), nil))
		m.mu.Unlock()
		return fatal
	}
	if err := m.transitionLocked(StateLive); err != nil {
		m.mu.Unlock()
		return err
	}
	m.segment = sw.Segment
	m.segmentEnd = sw.Segment.HardStop
	m.mu.Unlock()

	m.log.Info().
		Str("asset", sw.Segment.AssetPath).
		Str("block_id", sw.Segment.BlockID).
		Time("boundary", sw.Boundary).
		Time("hard_stop", sw.Segment.HardStop).
		Msg("Segment live")

	m.recordAsRun(ctx, sw, result, lead)
	return nil
}

func (m *ChannelManager) checkLeadTime(boundary time.Time, lead time.Duration) {
	m.deps.Metrics.ObserveLeadTime(m.channelID, lead.Seconds())
	if lead < m.cfg.MinLeadTime {
		m.reportViolation(metrics.ViolationLeadTime, boundary, lead, "insufficient prefeed lead time")
	}
}

func (m *ChannelManager) reportViolation(kind string, boundary time.Time, lead time.Duration, msg string) {
	m.deps.Metrics.IncProtocolViolation(m.channelID, kind)
	m.log.Warn().
		Str("kind", kind).
		Time("boundary", boundary).
		Dur("required_lead", m.cfg.MinLeadTime).
		Dur("actual_lead", lead).
		Str("detail", msg).
		Msg("Prefeed protocol violation")
}

func (m *ChannelManager) recordAsRun(ctx context.Context, sw Switch, result renderer.SwitchResult, lead time.Duration) {
	if m.deps.AsRun == nil {
		return
	}
	rec := AsRunRecord{
		ChannelID:   m.channelID,
		InstanceID:  m.instanceID,
		BlockID:     sw.Segment.BlockID,
		AssetPath:   sw.Segment.AssetPath,
		Title:       sw.Segment.Title,
		StartOffset: sw.Segment.StartOffset,
		Boundary:    sw.Boundary,
		HardStop:    sw.Segment.HardStop,
		Status:      result.Status,
		LeadTime:    lead,
		Bootstrap:   sw.Bootstrap,
		Violation:   result.IsProtocolViolation() || (!sw.Bootstrap && lead < m.cfg.MinLeadTime),
	}
	if err := m.deps.AsRun.RecordAsRun(ctx, rec); err != nil {
		m.log.Warn().Err(err).Str("block_id", rec.BlockID).Msg("Failed to record as-run event")
	}
}

// managerIssuer adapts the manager to the orchestrator. Calls arrive with tickMu held.
type managerIssuer struct {
	m *ChannelManager
}

func (i managerIssuer) LoadPreview(ctx context.Context, seg Segment) error {
	return i.m.loadPreview(ctx, seg)
}

func (i managerIssuer) SwitchToLive(ctx context.Context, sw Switch) error {
	return i.m.issueSwitch(ctx, sw)
}
