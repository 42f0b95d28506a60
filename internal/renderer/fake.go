package renderer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	tsPacketSize      = 188
	tsSyncByte        = 0x47
	defaultFakeBuffer = 64
)

// FakeConfig configures the in-memory producer
type FakeConfig struct {
	ChannelID string
	// ChunkSize is the number of bytes emitted per chunk
	ChunkSize int
	// ChunkInterval paces output from an internal ticker; zero means chunks are
	// only emitted from OnPacedTick
	ChunkInterval time.Duration
	// Buffer is the number of chunks held for a slow reader before new ones are skipped
	Buffer int
}

// FakeProducer is a deterministic in-process renderer. It emits transport-stream shaped
// chunks stamped with the live asset and records every control call for inspection.
type FakeProducer struct {
	cfg FakeConfig

	mu       sync.Mutex
	started  bool
	stopped  bool
	live     PreviewRequest
	preview  *PreviewRequest
	seq      uint64
	skipped  uint64
	previews []PreviewRequest
	switches []time.Time
	ticks    int

	startErr     error
	previewErr   error
	switchErr    error
	switchStatus string
	switchDelay  time.Duration

	chunks chan []byte
	done   chan struct{}
	wg     sync.WaitGroup
	out    *chunkReader
}

// NewFakeProducer creates a fake producer
func NewFakeProducer(cfg FakeConfig) *FakeProducer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = tsPacketSize * 7
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultFakeBuffer
	}
	chunks := make(chan []byte, cfg.Buffer)
	return &FakeProducer{
		cfg:    cfg,
		chunks: chunks,
		done:   make(chan struct{}),
		out:    &chunkReader{ch: chunks},
	}
}

// Start begins output
func (f *FakeProducer) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}
	if f.stopped {
		return ErrStopped
	}
	if f.started {
		return nil
	}
	f.started = true

	if f.cfg.ChunkInterval > 0 {
		f.wg.Add(1)
		go f.pace()
	}
	return nil
}

// Stop ends output; readers of Output see EOF once buffered chunks drain
func (f *FakeProducer) Stop(_ context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	close(f.done)
	close(f.chunks)
	f.mu.Unlock()

	f.wg.Wait()
	return nil
}

// LoadPreview records the request and stages it for the next switch
func (f *FakeProducer) LoadPreview(_ context.Context, req PreviewRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.previews = append(f.previews, req)
	if f.previewErr != nil {
		return false, f.previewErr
	}
	if !f.started {
		return false, ErrNotStarted
	}
	staged := req
	f.preview = &staged
	return true, nil
}

// SwitchToLive promotes the staged preview
func (f *FakeProducer) SwitchToLive(ctx context.Context, boundary time.Time) (SwitchResult, error) {
	f.mu.Lock()
	f.switches = append(f.switches, boundary)
	err := f.switchErr
	delay := f.switchDelay
	status := f.switchStatus
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return SwitchResult{}, ctx.Err()
		}
	}
	if err != nil {
		return SwitchResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.preview == nil {
		return SwitchResult{Success: false, Status: StatusRejected, Message: "no preview loaded"}, nil
	}
	f.live = *f.preview
	f.preview = nil

	if status == "" {
		status = StatusOK
	}
	return SwitchResult{Success: true, Status: status, Message: "switched to " + f.live.AssetPath}, nil
}

// OnPacedTick emits one chunk when the producer has no internal pacing
func (f *FakeProducer) OnPacedTick(_ time.Time) {
	f.mu.Lock()
	f.ticks++
	paced := f.cfg.ChunkInterval > 0
	f.mu.Unlock()

	if !paced {
		f.emit()
	}
}

// Output returns the producer's byte stream
func (f *FakeProducer) Output() io.Reader {
	return f.out
}

func (f *FakeProducer) pace() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.emit()
		}
	}
}

func (f *FakeProducer) emit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started || f.stopped {
		return
	}
	chunk := f.buildChunkLocked()
	select {
	case f.chunks <- chunk:
		f.seq++
	default:
		f.skipped++
	}
}

// buildChunkLocked renders a chunk of sync-byte aligned packets whose first packet
// carries a readable header. Must hold f.mu.
func (f *FakeProducer) buildChunkLocked() []byte {
	chunk := make([]byte, f.cfg.ChunkSize)
	fill := byte(f.seq % 251)
	for i := range chunk {
		if i%tsPacketSize == 0 {
			chunk[i] = tsSyncByte
			continue
		}
		chunk[i] = fill
	}
	header := fmt.Sprintf("ch=%s seq=%d asset=%s", f.cfg.ChannelID, f.seq, f.live.AssetPath)
	limit := tsPacketSize
	if limit > len(chunk) {
		limit = len(chunk)
	}
	copy(chunk[1:limit], header)
	return chunk
}

// SetStartError makes Start fail with err
func (f *FakeProducer) SetStartError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// SetPreviewError makes LoadPreview fail with err
func (f *FakeProducer) SetPreviewError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewErr = err
}

// SetSwitchError makes SwitchToLive fail with err
func (f *FakeProducer) SetSwitchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchErr = err
}

// SetSwitchStatus overrides the status code of successful switches
func (f *FakeProducer) SetSwitchStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchStatus = status
}

// SetSwitchDelay delays SwitchToLive replies
func (f *FakeProducer) SetSwitchDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchDelay = d
}

// Previews returns a copy of every LoadPreview request received
func (f *FakeProducer) Previews() []PreviewRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PreviewRequest, len(f.previews))
	copy(out, f.previews)
	return out
}

// Switches returns a copy of every SwitchToLive boundary received
func (f *FakeProducer) Switches() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.switches))
	copy(out, f.switches)
	return out
}

// CallCount returns the total number of control RPCs received
func (f *FakeProducer) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.previews) + len(f.switches)
}

// Live returns the segment currently on air
func (f *FakeProducer) Live() PreviewRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Running reports whether the producer has started and not yet stopped
func (f *FakeProducer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.stopped
}

// Stopped reports whether Stop has been called
func (f *FakeProducer) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// chunkReader adapts the chunk channel to io.Reader for a single consumer
type chunkReader struct {
	ch      <-chan []byte
	pending []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		chunk, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
