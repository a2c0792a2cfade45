package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrPermissionDenied is returned when the platform refuses microphone
// access. The caller surfaces it to the user; session state is untouched.
var ErrPermissionDenied = errors.New("microphone access denied")

// ErrStreamClosed is returned when pushing audio into a released stream.
var ErrStreamClosed = errors.New("microphone stream closed")

// Stream is an open microphone stream delivering encoded audio chunks.
// Close releases the microphone and must be idempotent; the chunk channel
// is closed with it.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device grants exclusive access to the platform microphone.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Feed is a Device fed by an external audio source, e.g. the websocket
// bridge pushing browser MediaRecorder chunks. Only one stream can be open
// at a time.
type Feed struct {
	mu      sync.Mutex
	denied  bool
	current *feedStream
}

// NewFeed creates an externally fed microphone device.
func NewFeed() *Feed {
	return &Feed{}
}

// SetDenied marks the device as permission-denied; Open fails until cleared.
func (f *Feed) SetDenied(denied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = denied
}

// Open grants the stream, or ErrPermissionDenied when access is refused.
func (f *Feed) Open(_ context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		return nil, ErrPermissionDenied
	}
	if f.current != nil {
		return nil, errors.New("microphone already in use")
	}

	s := &feedStream{
		chunks: make(chan []byte, 64),
		feed:   f,
	}
	f.current = s
	return s, nil
}

// Push delivers one audio chunk into the open stream. Chunks arriving while
// no stream is open are dropped, matching a microphone that is not recording.
func (f *Feed) Push(chunk []byte) error {
	f.mu.Lock()
	s := f.current
	f.mu.Unlock()

	if s == nil {
		return ErrStreamClosed
	}
	return s.push(chunk)
}

func (f *Feed) release(s *feedStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == s {
		f.current = nil
	}
}

type feedStream struct {
	chunks chan []byte
	feed   *Feed

	mu     sync.Mutex
	closed bool
}

func (s *feedStream) Chunks() <-chan []byte {
	return s.chunks
}

func (s *feedStream) push(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	// Copy: the bridge reuses its read buffer between frames.
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	select {
	case s.chunks <- owned:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *feedStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.chunks)
	s.mu.Unlock()

	s.feed.release(s)
	return nil
}
