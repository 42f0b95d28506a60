// Package playout turns a sequence of segments into renderer preload and switch
// instructions and guards each channel's boundaries with a state machine.
package playout

import (
	"context"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/clock"
)

// Switch describes one SwitchToLive instruction
type Switch struct {
	Boundary time.Time
	Segment  Segment
	// Bootstrap marks the first switch of a channel, issued right after its preview
	Bootstrap bool
}

// Issuer receives the orchestrator's instructions
type Issuer interface {
	LoadPreview(ctx context.Context, seg Segment) error
	SwitchToLive(ctx context.Context, sw Switch) error
}

// SegmentOrchestrator is a clock-polled engine issuing exactly one LoadPreview and one
// SwitchToLive per segment. It is not safe for concurrent use; callers serialize Tick.
type SegmentOrchestrator struct {
	clock   clock.MasterClock
	prefeed time.Duration
	lookup  SegmentLookup
	issuer  Issuer

	active    Segment
	hasActive bool
	next      Segment
	hasNext   bool
	previewed Segment
}

// NewSegmentOrchestrator creates an orchestrator. prefeed is how long before a
// boundary the next segment's preview is issued.
func NewSegmentOrchestrator(clk clock.MasterClock, prefeed time.Duration, lookup SegmentLookup, issuer Issuer) *SegmentOrchestrator {
	return &SegmentOrchestrator{
		clock:   clk,
		prefeed: prefeed,
		lookup:  lookup,
		issuer:  issuer,
	}
}

// Tick evaluates the clock once and issues whatever instruction is due.
// Repeated ticks before a deadline have no side effects.
func (o *SegmentOrchestrator) Tick(ctx context.Context) error {
	now := o.clock.Now()

	if !o.hasActive {
		return o.bootstrap(ctx, now)
	}

	if !now.Before(o.active.HardStop) {
		if err := o.advance(ctx, now); err != nil {
			return err
		}
	}

	return o.preloadIfDue(ctx, now)
}

// Active returns the segment currently on air
func (o *SegmentOrchestrator) Active() (Segment, bool) {
	return o.active, o.hasActive
}

// Next returns the prefetched next segment, if any
func (o *SegmentOrchestrator) Next() (Segment, bool) {
	return o.next, o.hasNext
}

// PreloadDeadline returns when the next segment's preview becomes due
func (o *SegmentOrchestrator) PreloadDeadline() (time.Time, bool) {
	if !o.hasActive {
		return time.Time{}, false
	}
	return o.active.HardStop.Add(-o.prefeed), true
}

func (o *SegmentOrchestrator) bootstrap(ctx context.Context, now time.Time) error {
	seg, err := o.lookup(ctx, Segment{}, now)
	if err != nil {
		return &LookupError{Cause: err}
	}

	if err := o.preview(ctx, seg); err != nil {
		return err
	}
	if err := o.issuer.SwitchToLive(ctx, Switch{Boundary: now, Segment: seg, Bootstrap: true}); err != nil {
		return err
	}

	o.active = seg
	o.hasActive = true
	return nil
}

func (o *SegmentOrchestrator) advance(ctx context.Context, now time.Time) error {
	if err := o.fetchNext(ctx, now); err != nil {
		return err
	}

	// Late preview: the tick that should have issued it never came. The switch
	// still goes out; the issuer sees the short lead time.
	if !o.previewed.Same(o.next) {
		if err := o.preview(ctx, o.next); err != nil {
			return err
		}
	}

	if err := o.issuer.SwitchToLive(ctx, Switch{Boundary: o.active.HardStop, Segment: o.next}); err != nil {
		return err
	}

	o.active = o.next
	o.next = Segment{}
	o.hasNext = false
	return nil
}

func (o *SegmentOrchestrator) preloadIfDue(ctx context.Context, now time.Time) error {
	deadline := o.active.HardStop.Add(-o.prefeed)
	if now.Before(deadline) {
		return nil
	}
	if err := o.fetchNext(ctx, now); err != nil {
		return err
	}
	if o.previewed.Same(o.next) {
		return nil
	}
	return o.preview(ctx, o.next)
}

func (o *SegmentOrchestrator) fetchNext(ctx context.Context, now time.Time) error {
	if o.hasNext {
		return nil
	}
	seg, err := o.lookup(ctx, o.active, now)
	if err != nil {
		return &LookupError{Cause: err}
	}
	o.next = seg
	o.hasNext = true
	return nil
}

func (o *SegmentOrchestrator) preview(ctx context.Context, seg Segment) error {
	// Marked before the call so a failed preview is never re-issued for the same segment
	o.previewed = seg
	return o.issuer.LoadPreview(ctx, seg)
}
