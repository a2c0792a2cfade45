package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/smilecare/voice-reception/messages"
)

// SoxElement plays a clip through the sox CLI. It is the reference Element
// for local use; position and duration are derived from the PCM byte rate.
type SoxElement struct {
	client     *http.Client
	sampleRate int
	bits       int
	channels   int

	mu      sync.Mutex
	data    []byte
	offset  int // byte offset of the next sample to play
	playing bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	written int       // bytes handed to sox in the current run
	started time.Time // when the current run began speaking
	onEnded func()
}

// SoxOption configures a SoxElement.
type SoxOption func(*SoxElement)

// WithFormat sets the raw PCM format sox plays. Defaults to 24kHz 16-bit
// mono, the backend's TTS output format.
func WithFormat(sampleRate, bits, channels int) SoxOption {
	return func(e *SoxElement) {
		e.sampleRate = sampleRate
		e.bits = bits
		e.channels = channels
	}
}

// NewSoxElement creates an element that fetches remote clips over HTTP.
func NewSoxElement(client *http.Client, opts ...SoxOption) *SoxElement {
	if client == nil {
		client = http.DefaultClient
	}
	e := &SoxElement{
		client:     client,
		sampleRate: 24000,
		bits:       16,
		channels:   1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSoxElementFromClip creates an element over a locally captured clip,
// whose clip:// reference only resolves in this process.
func NewSoxElementFromClip(clip *messages.Clip, opts ...SoxOption) *SoxElement {
	e := NewSoxElement(nil, opts...)
	e.data = clip.Bytes()
	return e
}

func (e *SoxElement) byteRate() int {
	return e.sampleRate * e.sampleSize()
}

func (e *SoxElement) sampleSize() int {
	return (e.bits / 8) * e.channels
}

// playedBytes estimates how much of the current run actually reached the
// speaker. Bytes written to the stdin pipe run ahead of playback because the
// pipe buffers, so the count is bounded by the wall-clock play time.
func playedBytes(written int, elapsed time.Duration, byteRate, sampleSize int) int {
	byElapsed := int(elapsed.Seconds() * float64(byteRate))
	byElapsed -= byElapsed % sampleSize
	if byElapsed < 0 {
		byElapsed = 0
	}
	if byElapsed < written {
		return byElapsed
	}
	return written
}

// Load fetches the clip bytes when needed and reports the duration.
func (e *SoxElement) Load(ctx context.Context, url string) (time.Duration, error) {
	e.mu.Lock()
	loaded := e.data != nil
	e.mu.Unlock()

	if !loaded {
		if strings.HasPrefix(url, messages.ClipScheme) {
			return 0, fmt.Errorf("local clip %s has no bytes; use NewSoxElementFromClip", url)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("fetch clip: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, err
		}
		e.mu.Lock()
		e.data = data
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(len(e.data)) * time.Second / time.Duration(e.byteRate()), nil
}

// Start streams the clip into sox from the current offset.
func (e *SoxElement) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing {
		return nil
	}
	if e.offset >= len(e.data) {
		e.offset = 0
	}

	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(e.sampleRate),
		"-b", fmt.Sprint(e.bits),
		"-c", fmt.Sprint(e.channels),
		"-e", "signed-integer",
		"-",
		"-d",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	e.cmd = cmd
	e.stdin = stdin
	e.playing = true
	e.written = 0
	e.started = time.Now()

	start := e.offset
	go e.feed(cmd, stdin, start)
	return nil
}

// feed writes the remaining samples to sox and fires onEnded on natural end.
func (e *SoxElement) feed(cmd *exec.Cmd, stdin io.WriteCloser, start int) {
	const frame = 4096
	data := e.data
	for pos := start; pos < len(data); pos += frame {
		end := pos + frame
		if end > len(data) {
			end = len(data)
		}
		n, err := stdin.Write(data[pos:end])
		e.mu.Lock()
		e.written += n
		interrupted := e.cmd != cmd
		e.mu.Unlock()
		if err != nil || interrupted {
			return
		}
	}
	stdin.Close()
	cmd.Wait()

	e.mu.Lock()
	ended := e.cmd == cmd && e.playing
	var onEnded func()
	if ended {
		e.playing = false
		e.offset = 0
		e.cmd = nil
		e.stdin = nil
		onEnded = e.onEnded
	}
	e.mu.Unlock()

	if onEnded != nil {
		onEnded()
	}
}

// Stop pauses playback, keeping the position.
func (e *SoxElement) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *SoxElement) stopLocked() error {
	if !e.playing {
		return nil
	}
	e.offset += playedBytes(e.written, time.Since(e.started), e.byteRate(), e.sampleSize())
	if e.offset > len(e.data) {
		e.offset = len(e.data)
	}
	e.playing = false
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	e.cmd = nil
	e.stdin = nil
	return nil
}

// Seek moves the playback position, restarting playback when active.
func (e *SoxElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	offset := int(pos.Seconds() * float64(e.byteRate()))
	offset -= offset % e.sampleSize()
	if offset > len(e.data) {
		offset = len(e.data)
	}
	wasPlaying := e.playing
	if wasPlaying {
		_ = e.stopLocked()
	}
	e.offset = offset
	e.mu.Unlock()

	if wasPlaying {
		return e.Start()
	}
	return nil
}

// Position reports the current playback position.
func (e *SoxElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.offset
	if e.playing {
		pos += playedBytes(e.written, time.Since(e.started), e.byteRate(), e.sampleSize())
	}
	return time.Duration(pos) * time.Second / time.Duration(e.byteRate())
}

// SetOnEnded registers the natural-end callback.
func (e *SoxElement) SetOnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// Close stops playback and releases the element.
func (e *SoxElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}
