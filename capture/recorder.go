// Package capture owns the microphone for the duration of a recording:
// it acquires the stream, buffers encoded chunks, and finalizes them into a
// single clip on stop. The stream is released on every exit path.
package capture

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/smilecare/voice-reception/messages"
)

// ErrNotCapturing is returned when Stop is called outside of a recording.
var ErrNotCapturing = errors.New("recorder is not capturing")

// ErrAlreadyCapturing is returned when Start is called mid-recording.
var ErrAlreadyCapturing = errors.New("recorder is already capturing")

// State is the recorder lifecycle: Idle -> Capturing -> Finalizing -> Idle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Encoder finalizes accumulated chunks into one playable byte sequence,
// e.g. wrapping raw frames into a WAV container.
type Encoder func(data []byte) ([]byte, error)

// Recorder drives one microphone recording at a time.
type Recorder struct {
	device  Device
	buffer  *ChunkBuffer
	mime    string
	encoder Encoder

	mu     sync.Mutex
	state  State
	stream Stream
	pump   chan struct{} // closed when the chunk pump exits
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEncoder sets the finalization step applied on Stop.
func WithEncoder(enc Encoder) Option {
	return func(r *Recorder) { r.encoder = enc }
}

// WithMIME sets the clip content type. Defaults to "audio/wav".
func WithMIME(mime string) Option {
	return func(r *Recorder) { r.mime = mime }
}

// NewRecorder creates an idle recorder over the given microphone device.
func NewRecorder(device Device, maxClipSize int, opts ...Option) *Recorder {
	r := &Recorder{
		device: device,
		buffer: NewChunkBuffer(maxClipSize),
		mime:   "audio/wav",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start requests exclusive microphone access and begins accumulating chunks.
// On denial the recorder stays Idle and ErrPermissionDenied is returned; a
// fresh Start call is required to retry.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyCapturing
	}
	r.mu.Unlock()

	stream, err := r.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return ErrPermissionDenied
		}
		return err
	}

	r.mu.Lock()
	r.state = StateCapturing
	r.stream = stream
	r.pump = make(chan struct{})
	r.buffer.Clear()
	r.mu.Unlock()

	go r.pumpChunks(stream)
	return nil
}

// pumpChunks drains the stream into the buffer until the stream closes.
func (r *Recorder) pumpChunks(stream Stream) {
	defer close(r.pump)
	for chunk := range stream.Chunks() {
		if err := r.buffer.Append(chunk); err != nil {
			log.Printf("⚠️ recorder: dropping %d byte chunk: %v", len(chunk), err)
		}
	}
}

// Stop finalizes the recording into a clip and releases the microphone.
// The stream is released unconditionally, even when finalization fails.
// A recording that captured no audio yields a nil clip and no error.
func (r *Recorder) Stop() (clip *messages.Clip, err error) {
	r.mu.Lock()
	if r.state != StateCapturing {
		r.mu.Unlock()
		return nil, ErrNotCapturing
	}
	r.state = StateFinalizing
	stream := r.stream
	pump := r.pump
	r.stream = nil
	r.mu.Unlock()

	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			log.Printf("⚠️ recorder: stream close: %v", cerr)
		}
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
	}()

	// Closing the stream ends the pump; wait so every delivered chunk is
	// buffered before assembly.
	stream.Close()
	<-pump

	data := r.buffer.Flush()
	if len(data) == 0 {
		return nil, nil
	}

	if r.encoder != nil {
		data, err = r.encoder(data)
		if err != nil {
			return nil, err
		}
	}

	return messages.NewClip(r.mime, data), nil
}
