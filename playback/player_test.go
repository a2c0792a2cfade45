package playback_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilecare/voice-reception/messages"
	"github.com/smilecare/voice-reception/playback"
)

// fakeElement is an in-memory Element with a fixed duration.
type fakeElement struct {
	mu       sync.Mutex
	loaded   string
	playing  bool
	position time.Duration
	startErr error
	starts   int
	closed   bool
	onEnded  func()
}

func (e *fakeElement) Load(_ context.Context, url string) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = url
	return 10 * time.Second, nil
}

func (e *fakeElement) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.starts++
	e.playing = true
	return nil
}

func (e *fakeElement) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *fakeElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = pos
	return nil
}

func (e *fakeElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *fakeElement) SetOnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

func (e *fakeElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeElement) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeElement) finish() {
	e.mu.Lock()
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func freshMessage() messages.Message {
	return messages.NewAssistantMessage("Hi there", "http://backend/audio/x.wav", true)
}

func TestAutoPlayFiresOnceAfterMount(t *testing.T) {
	elem := &fakeElement{}
	var played []string
	player := playback.NewPlayer(elem, nil, freshMessage(),
		playback.WithAutoPlayDelay(5*time.Millisecond),
		playback.WithOnPlaying(func(id string) { played = append(played, id) }),
	)
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), "http://backend/audio/x.wav"))

	require.Eventually(t, player.IsPlaying, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, elem.startCount())
	require.Len(t, played, 1)
	assert.Equal(t, player.MessageID(), played[0])
	assert.Equal(t, 10*time.Second, player.Duration())
}

func TestAutoPlaySkippedForPlayedMessage(t *testing.T) {
	msg := freshMessage()
	msg.Played = true

	elem := &fakeElement{}
	player := playback.NewPlayer(elem, nil, msg,
		playback.WithAutoPlayDelay(time.Millisecond))
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), msg.ClipURL))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, elem.startCount())
	assert.False(t, player.IsPlaying())
}

func TestAutoPlaySkippedWithoutFlag(t *testing.T) {
	msg := messages.NewAssistantMessage("old reply", "http://backend/audio/x.wav", false)

	elem := &fakeElement{}
	player := playback.NewPlayer(elem, nil, msg,
		playback.WithAutoPlayDelay(time.Millisecond))
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), msg.ClipURL))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, elem.startCount())
}

func TestBlockedAutoPlayIsSwallowed(t *testing.T) {
	elem := &fakeElement{startErr: playback.ErrAutoplayBlocked}
	player := playback.NewPlayer(elem, nil, freshMessage(),
		playback.WithAutoPlayDelay(time.Millisecond))
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), "http://backend/audio/x.wav"))
	time.Sleep(30 * time.Millisecond)

	// Blocked, not playing, but manual control still works.
	assert.False(t, player.IsPlaying())
	elem.mu.Lock()
	elem.startErr = nil
	elem.mu.Unlock()
	require.NoError(t, player.Play())
	assert.True(t, player.IsPlaying())
}

func TestManualStartSatisfiesPendingAutoPlay(t *testing.T) {
	elem := &fakeElement{}
	player := playback.NewPlayer(elem, nil, freshMessage(),
		playback.WithAutoPlayDelay(time.Hour)) // never fires on its own
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), "http://backend/audio/x.wav"))
	require.NoError(t, player.Play())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, elem.startCount())
}

func TestCloseCancelsPendingAutoPlay(t *testing.T) {
	elem := &fakeElement{}
	player := playback.NewPlayer(elem, nil, freshMessage(),
		playback.WithAutoPlayDelay(20*time.Millisecond))

	require.NoError(t, player.Mount(context.Background(), "http://backend/audio/x.wav"))
	require.NoError(t, player.Close())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, elem.startCount())
	assert.True(t, elem.closed)
}

func TestToggleAndEnded(t *testing.T) {
	elem := &fakeElement{}
	msg := messages.NewAssistantMessage("reply", "http://backend/audio/x.wav", false)
	player := playback.NewPlayer(elem, nil, msg)
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), msg.ClipURL))

	require.NoError(t, player.Toggle())
	assert.True(t, player.IsPlaying())

	require.NoError(t, player.Toggle())
	assert.False(t, player.IsPlaying())

	require.NoError(t, player.Play())
	elem.finish()
	assert.False(t, player.IsPlaying())
}

func TestSeekNormalized(t *testing.T) {
	elem := &fakeElement{}
	msg := messages.NewAssistantMessage("reply", "http://backend/audio/x.wav", false)
	player := playback.NewPlayer(elem, nil, msg)
	defer player.Close()

	require.NoError(t, player.Mount(context.Background(), msg.ClipURL))

	require.NoError(t, player.SeekNormalized(0.5))
	assert.Equal(t, 5*time.Second, player.Position())
	assert.InDelta(t, 0.5, player.Progress(), 0.001)

	// Out-of-range fractions are clamped.
	require.NoError(t, player.SeekNormalized(1.5))
	assert.Equal(t, 10*time.Second, player.Position())
	require.NoError(t, player.SeekNormalized(-0.2))
	assert.Equal(t, time.Duration(0), player.Position())
}
