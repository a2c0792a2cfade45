// Package playback drives per-message audio widgets: play/pause/seek,
// progress, and at-most-once auto-play of freshly received assistant clips.
package playback

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/smilecare/voice-reception/messages"
)

// PlayingFunc reports upward that a message entered the playing state, so
// the session can record the first playback.
type PlayingFunc func(messageID string)

// Player is the playback controller for one transcript message with a clip.
type Player struct {
	elem      Element
	stage     *Stage
	messageID string
	autoPlay  bool // auto-play requested and not yet satisfied at mount
	delay     time.Duration
	onPlaying PlayingFunc

	mu        sync.Mutex
	isPlaying bool
	duration  time.Duration
	autoTimer *time.Timer
	closed    bool
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithAutoPlayDelay sets the bounded delay before a scheduled auto-play
// fires, tolerating mount latency.
func WithAutoPlayDelay(d time.Duration) PlayerOption {
	return func(p *Player) { p.delay = d }
}

// WithOnPlaying sets the upward playing-state report.
func WithOnPlaying(fn PlayingFunc) PlayerOption {
	return func(p *Player) { p.onPlaying = fn }
}

// NewPlayer creates the widget controller for msg. Auto-play is armed only
// when the message asks for it and has never played before; it fires on
// Mount.
func NewPlayer(elem Element, stage *Stage, msg messages.Message, opts ...PlayerOption) *Player {
	p := &Player{
		elem:      elem,
		stage:     stage,
		messageID: msg.ID,
		autoPlay:  msg.AutoPlay && !msg.Played,
		delay:     300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	elem.SetOnEnded(p.handleEnded)
	if stage != nil {
		stage.register(p)
	}
	return p
}

// Mount loads the clip and, when armed, schedules the one auto-play.
func (p *Player) Mount(ctx context.Context, url string) error {
	duration, err := p.elem.Load(ctx, url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.duration = duration
	if p.autoPlay && !p.closed {
		p.autoTimer = time.AfterFunc(p.delay, p.tryAutoPlay)
	}
	p.mu.Unlock()
	return nil
}

// tryAutoPlay attempts the scheduled automatic start. A platform block is
// swallowed: not fatal, not retried.
func (p *Player) tryAutoPlay() {
	p.mu.Lock()
	if p.closed || !p.autoPlay {
		p.mu.Unlock()
		return
	}
	p.autoPlay = false
	p.mu.Unlock()

	if err := p.elem.Start(); err != nil {
		log.Printf("🔇 [%s] auto-play prevented: %v", shortID(p.messageID), err)
		return
	}
	p.handleStarted()
}

// Play starts playback manually. Manual control is always available,
// whatever the auto-play history.
func (p *Player) Play() error {
	if err := p.elem.Start(); err != nil {
		return err
	}
	p.handleStarted()
	return nil
}

// Pause stops playback, keeping the position.
func (p *Player) Pause() error {
	if err := p.elem.Stop(); err != nil {
		return err
	}
	p.mu.Lock()
	p.isPlaying = false
	p.mu.Unlock()
	return nil
}

// Toggle flips between playing and paused.
func (p *Player) Toggle() error {
	if p.IsPlaying() {
		return p.Pause()
	}
	return p.Play()
}

// SeekNormalized moves to fraction*duration, fraction in [0,1].
func (p *Player) SeekNormalized(fraction float64) error {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	p.mu.Lock()
	target := time.Duration(fraction * float64(p.duration))
	p.mu.Unlock()
	return p.elem.Seek(target)
}

// IsPlaying reports whether the clip is currently audible.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPlaying
}

// Duration returns the clip length when known.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Position returns the current playback position.
func (p *Player) Position() time.Duration {
	return p.elem.Position()
}

// Progress returns position/duration in [0,1], 0 when duration is unknown.
func (p *Player) Progress() float64 {
	d := p.Duration()
	if d <= 0 {
		return 0
	}
	f := float64(p.Position()) / float64(d)
	if f > 1 {
		f = 1
	}
	return f
}

// MessageID returns the transcript message this player belongs to.
func (p *Player) MessageID() string {
	return p.messageID
}

// Close cancels any pending auto-play and releases the element.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	p.autoPlay = false
	if p.autoTimer != nil {
		p.autoTimer.Stop()
		p.autoTimer = nil
	}
	p.mu.Unlock()

	if p.stage != nil {
		p.stage.unregister(p)
	}
	return p.elem.Close()
}

func (p *Player) handleStarted() {
	p.mu.Lock()
	p.isPlaying = true
	// Any pending auto-play is satisfied by whoever started us first.
	p.autoPlay = false
	if p.autoTimer != nil {
		p.autoTimer.Stop()
		p.autoTimer = nil
	}
	p.mu.Unlock()

	if p.stage != nil {
		p.stage.playerStarted(p)
	}
	if p.onPlaying != nil {
		p.onPlaying(p.messageID)
	}
}

func (p *Player) handleEnded() {
	p.mu.Lock()
	p.isPlaying = false
	p.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
