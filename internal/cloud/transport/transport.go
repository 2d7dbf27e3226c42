package transport

import (
	"context"
	"sync"
	"time"
)

// DialTimeout bounds a single connection attempt. Dial failures surface
// as connect errors to the caller, which owns retry policy.
const DialTimeout = 10 * time.Second

// Transport dials the remote endpoint and returns an established Stream.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

// Stream is an established bidirectional byte stream.
//
// Inbound payloads arrive on Data until the stream ends, at which point
// Data is closed, Done is closed, and Err carries the termination reason
// (nil for a locally requested Close).
type Stream interface {
	// Data delivers inbound payload slices. The channel is closed when
	// the stream ends. Each slice is owned by the receiver.
	Data() <-chan []byte

	// Done is closed once the stream has terminated for any reason.
	Done() <-chan struct{}

	// Err reports why the stream ended. Valid after Done is closed;
	// nil means a clean local Close.
	Err() error

	// Write sends one payload. Returns ErrStreamClosed after termination.
	Write(p []byte) error

	// Close tears the stream down. Safe to call multiple times.
	Close() error
}

// streamState holds the termination bookkeeping shared by both stream
// implementations.
type streamState struct {
	data chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newStreamState(buffer int) *streamState {
	return &streamState{
		data: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *streamState) Data() <-chan []byte { return s.data }

func (s *streamState) Done() <-chan struct{} { return s.done }

func (s *streamState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// terminate records the first termination reason and closes done.
// Returns true on the first call, false on subsequent ones.
func (s *streamState) terminate(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	close(s.done)
	return true
}

func (s *streamState) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
