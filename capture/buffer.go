package capture

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when a recording exceeds its maximum size.
var ErrBufferFull = errors.New("recording buffer full")

// ChunkBuffer accumulates encoded microphone chunks into one contiguous
// recording until it is finalized. Chunks past the size cap are rejected
// whole rather than truncated.
type ChunkBuffer struct {
	mu      sync.Mutex
	data    []byte
	maxSize int
}

// NewChunkBuffer creates a buffer capped at maxSize bytes.
func NewChunkBuffer(maxSize int) *ChunkBuffer {
	return &ChunkBuffer{maxSize: maxSize}
}

// MaxSize returns the size cap in bytes.
func (b *ChunkBuffer) MaxSize() int {
	return b.maxSize
}

// Append adds one chunk, or returns ErrBufferFull when it would exceed the
// cap. The buffer is untouched on rejection.
func (b *ChunkBuffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data)+len(chunk) > b.maxSize {
		return ErrBufferFull
	}
	b.data = append(b.data, chunk...)
	return nil
}

// Flush hands over the accumulated recording and empties the buffer. A
// recording that captured nothing yields nil.
func (b *ChunkBuffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.data
	b.data = nil
	if len(data) == 0 {
		return nil
	}
	return data
}

// Clear discards any accumulated audio.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// Size returns the bytes accumulated so far.
func (b *ChunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
