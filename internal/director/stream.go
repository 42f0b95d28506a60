package director

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
)

const (
	readChunkSize       = 32 * 1024
	defaultViewerBuffer = 256
)

// Viewer disconnect reasons
const (
	DisconnectOverflow   = "overflow"
	DisconnectStreamEnd  = "stream_end"
	DisconnectDetached   = "detached"
	DisconnectStreamStop = "stream_closed"
)

// Viewer is one attached reader of a ChannelStream
type Viewer struct {
	id     string
	ch     chan []byte
	once   sync.Once
	mu     sync.Mutex
	reason string
}

// ID returns the viewer session id
func (v *Viewer) ID() string {
	return v.id
}

// Chunks delivers stream chunks in order; it is closed when the viewer is disconnected
func (v *Viewer) Chunks() <-chan []byte {
	return v.ch
}

// Reason returns why the viewer was disconnected, or "" while attached
func (v *Viewer) Reason() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason
}

func (v *Viewer) disconnect(reason string) {
	v.once.Do(func() {
		v.mu.Lock()
		v.reason = reason
		v.mu.Unlock()
		close(v.ch)
	})
}

// ChannelStream reads one producer output and copies every chunk to all attached
// viewers. A viewer whose buffer is full is disconnected rather than slowing the
// reader or losing bytes.
type ChannelStream struct {
	channelID  string
	src        io.Reader
	bufferSize int
	onOverflow func(viewerID string)
	log        zerolog.Logger

	mu      sync.Mutex
	viewers map[string]*Viewer
	closed  bool
	started bool
	bytes   int64

	done chan struct{}
}

// NewChannelStream creates a stream over src. onOverflow may be nil.
func NewChannelStream(channelID string, src io.Reader, viewerBuffer int, onOverflow func(viewerID string)) *ChannelStream {
	if viewerBuffer <= 0 {
		viewerBuffer = defaultViewerBuffer
	}
	return &ChannelStream{
		channelID:  channelID,
		src:        src,
		bufferSize: viewerBuffer,
		onOverflow: onOverflow,
		log:        logger.Channel("stream", channelID),
		viewers:    make(map[string]*Viewer),
		done:       make(chan struct{}),
	}
}

// Start launches the reader loop once
func (s *ChannelStream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.readLoop()
}

// Attach adds a viewer that receives every chunk read from now on
func (s *ChannelStream) Attach(id string) (*Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if v, ok := s.viewers[id]; ok {
		return v, nil
	}
	v := &Viewer{id: id, ch: make(chan []byte, s.bufferSize)}
	s.viewers[id] = v
	return v, nil
}

// Detach removes a viewer; it is safe to call more than once
func (s *ChannelStream) Detach(id string) bool {
	s.mu.Lock()
	v, ok := s.viewers[id]
	delete(s.viewers, id)
	s.mu.Unlock()

	if ok {
		v.disconnect(DisconnectDetached)
	}
	return ok
}

// Close disconnects every viewer and refuses new ones. The reader loop exits when
// the source reaches EOF.
func (s *ChannelStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	viewers := s.viewers
	s.viewers = make(map[string]*Viewer)
	s.mu.Unlock()

	for _, v := range viewers {
		v.disconnect(DisconnectStreamStop)
	}
}

// Done is closed when the reader loop has exited
func (s *ChannelStream) Done() <-chan struct{} {
	return s.done
}

// ViewerCount returns the number of attached viewers
func (s *ChannelStream) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// BytesRead returns the number of bytes read from the source so far
func (s *ChannelStream) BytesRead() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *ChannelStream) readLoop() {
	defer close(s.done)

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("Stream source read failed")
			}
			s.end()
			return
		}
	}
}

func (s *ChannelStream) broadcast(chunk []byte) {
	var overflowed []*Viewer

	s.mu.Lock()
	s.bytes += int64(len(chunk))
	for id, v := range s.viewers {
		select {
		case v.ch <- chunk:
		default:
			delete(s.viewers, id)
			overflowed = append(overflowed, v)
		}
	}
	s.mu.Unlock()

	for _, v := range overflowed {
		v.disconnect(DisconnectOverflow)
		s.log.Warn().Str("viewer_id", v.id).Msg("Viewer buffer overflowed, disconnecting")
		if s.onOverflow != nil {
			s.onOverflow(v.id)
		}
	}
}

// end disconnects remaining viewers after the source finished
func (s *ChannelStream) end() {
	s.mu.Lock()
	s.closed = true
	viewers := s.viewers
	s.viewers = make(map[string]*Viewer)
	s.mu.Unlock()

	for _, v := range viewers {
		v.disconnect(DisconnectStreamEnd)
	}
}
