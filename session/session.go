// Package session owns the lifecycle of one voice conversation: greeting,
// recording, submission, auto-play tracking, and reset. All transitions run
// through a single validated state machine; the gateway, recorder, and
// notifier are collaborators behind interfaces.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/smilecare/voice-reception/gateway"
	"github.com/smilecare/voice-reception/messages"
)

// Fallback texts when the backend omits them, matching its own defaults.
const (
	defaultGreeting      = "Hello! How can I help you today?"
	defaultUserText      = "User message"
	defaultAssistantText = "Assistant response"
	backendDownNotice    = "Cannot connect to the backend. Please start the backend server."
)

var (
	// ErrInvalidTransition is returned when an operation arrives while the
	// conversation is not in an accepting state. Never silently ignored.
	ErrInvalidTransition = errors.New("invalid conversation transition")
	// ErrSubmitFailed wraps a failed voice submission. The pending clip is
	// preserved so the same recording can be retried.
	ErrSubmitFailed = errors.New("voice submission failed")
)

// State is the explicit conversation state, replacing ad hoc flag
// combinations with one enumerated machine.
type State int

const (
	StateIdle State = iota // created, greeting not yet requested
	StateAwaitingGreeting  // greeting request in flight
	StateReady             // greeted, able to record
	StateRecording         // microphone open
	StateHasPendingClip    // recording stopped, awaiting submit or cancel
	StateSubmitting        // voice submission in flight
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StateHasPendingClip:
		return "has_pending_clip"
	case StateSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Gateway is the backend collaborator: two calls, nothing else.
type Gateway interface {
	Greeting(ctx context.Context, sessionID string) (*gateway.GreetingResult, error)
	ProcessVoice(ctx context.Context, sessionID string, clip *messages.Clip) (*gateway.VoiceResult, error)
}

// Recorder is the audio capture collaborator.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*messages.Clip, error)
}

// Notifier dispatches the booking side effect.
type Notifier interface {
	BookingConfirmed(email string)
}

// AppendFunc observes every transcript append. Locally captured clips are
// handed along so the presentation layer can play them.
type AppendFunc func(msg messages.Message, clip *messages.Clip)

// StateFunc observes state changes.
type StateFunc func(state State)

// Conversation is one voice conversation. One per client instance.
type Conversation struct {
	gateway  Gateway
	recorder Recorder
	notifier Notifier
	store    *Store
	onAppend AppendFunc
	onState  StateFunc

	mu          sync.Mutex
	id          string
	state       State
	transcript  []messages.Message
	pendingClip *messages.Clip
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithNotifier sets the booking notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Conversation) { c.notifier = n }
}

// WithStore sets the optional Redis session mirror.
func WithStore(s *Store) Option {
	return func(c *Conversation) { c.store = s }
}

// WithOnAppend sets the transcript observer.
func WithOnAppend(fn AppendFunc) Option {
	return func(c *Conversation) { c.onAppend = fn }
}

// WithOnState sets the state observer.
func WithOnState(fn StateFunc) Option {
	return func(c *Conversation) { c.onState = fn }
}

// New creates a fresh conversation with a new identifier.
func New(gw Gateway, rec Recorder, opts ...Option) *Conversation {
	c := &Conversation{
		gateway:  gw,
		recorder: rec,
		id:       uuid.NewString(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.track()
	return c
}

// ID returns the session identifier.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current conversation state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Greeted reports whether the greeting exchange finished, successfully or
// not. A failed greeting still counts, preventing an automatic retry loop.
func (c *Conversation) Greeted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state >= StateReady
}

// Recording reports whether the microphone is open.
func (c *Conversation) Recording() bool {
	return c.State() == StateRecording
}

// Processing reports whether a gateway request is in flight.
func (c *Conversation) Processing() bool {
	s := c.State()
	return s == StateAwaitingGreeting || s == StateSubmitting
}

// Transcript returns a copy of the ordered message sequence.
func (c *Conversation) Transcript() []messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]messages.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// PendingClip returns the recorded-but-unsubmitted clip, if any.
func (c *Conversation) PendingClip() *messages.Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingClip
}

// StartConversation fetches the greeting and appends the opening assistant
// message. A gateway failure is converted into an in-transcript system
// notice; either way the conversation reaches Ready.
func (c *Conversation) StartConversation(ctx context.Context) error {
	if err := c.transition(StateIdle, StateAwaitingGreeting, "start conversation"); err != nil {
		return err
	}

	id := c.ID()
	result, err := c.gateway.Greeting(ctx, id)
	if err != nil {
		log.Printf("❌ [%s] greeting failed: %v", short(id), err)
		c.append(messages.NewSystemNotice(backendDownNotice), nil)
		c.setState(StateReady)
		return nil
	}

	text := result.Text
	if text == "" {
		text = defaultGreeting
	}
	c.append(messages.NewAssistantMessage(text, result.AudioURL, true), nil)
	c.setState(StateReady)
	log.Printf("✅ [%s] conversation started", short(id))
	return nil
}

// BeginRecording opens the microphone. Valid only when Ready: a call while
// recording, submitting, or holding a pending clip is rejected outright.
// When the platform denies access, state is unchanged and the error is the
// caller's to surface; observers never see a transient Recording state.
func (c *Conversation) BeginRecording(ctx context.Context) error {
	if err := c.transition(StateReady, StateReady, "begin recording"); err != nil {
		return err
	}

	if err := c.recorder.Start(ctx); err != nil {
		return err
	}
	c.setState(StateRecording)
	log.Printf("🎤 [%s] recording started", short(c.ID()))
	return nil
}

// StopRecording finalizes the capture and parks the clip for submission.
// An empty recording returns the conversation to Ready with nothing pending.
func (c *Conversation) StopRecording() error {
	if err := c.transition(StateRecording, StateRecording, "stop recording"); err != nil {
		return err
	}

	clip, err := c.recorder.Stop()
	if err != nil {
		c.setState(StateReady)
		return err
	}
	c.completeRecording(clip)
	return nil
}

// completeRecording receives the finalized clip from the capture controller.
func (c *Conversation) completeRecording(clip *messages.Clip) {
	c.mu.Lock()
	c.pendingClip = clip
	c.mu.Unlock()

	if clip == nil {
		c.setState(StateReady)
		return
	}
	c.setState(StateHasPendingClip)
	log.Printf("🎤 [%s] clip ready: %d bytes", short(c.ID()), clip.Size())
}

// CancelPendingClip discards the recording without submitting it.
func (c *Conversation) CancelPendingClip() error {
	if err := c.transition(StateHasPendingClip, StateReady, "cancel pending clip"); err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingClip = nil
	c.mu.Unlock()
	return nil
}

// SubmitRecording sends the pending clip to the backend. On success exactly
// two messages are appended, user echo then assistant reply, and a booking
// signal schedules the notifier once. On failure the clip stays pending for
// a manual retry.
func (c *Conversation) SubmitRecording(ctx context.Context) error {
	if err := c.transition(StateHasPendingClip, StateSubmitting, "submit recording"); err != nil {
		return err
	}

	c.mu.Lock()
	clip := c.pendingClip
	id := c.id
	c.mu.Unlock()

	result, err := c.gateway.ProcessVoice(ctx, id, clip)
	if err != nil {
		c.setState(StateHasPendingClip)
		log.Printf("❌ [%s] submit failed: %v", short(id), err)
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	userText := result.UserText
	if userText == "" {
		userText = defaultUserText
	}
	assistantText := result.AssistantText
	if assistantText == "" {
		assistantText = defaultAssistantText
	}

	c.append(messages.NewUserMessage(userText, clip), clip)
	c.append(messages.NewAssistantMessage(assistantText, result.AudioURL, true), nil)

	c.mu.Lock()
	c.pendingClip = nil
	c.mu.Unlock()
	c.setState(StateReady)

	// At most one notifier call per submission, even when the result
	// carries both booking signals.
	if result.BookingRequested() && c.notifier != nil {
		c.notifier.BookingConfirmed(result.RecipientEmail())
	}

	log.Printf("✅ [%s] turn complete: %q -> %q", short(id), userText, assistantText)
	return nil
}

// MarkPlayed records that a message finished its first playback. Idempotent;
// once set, the message never auto-plays again.
func (c *Conversation) MarkPlayed(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.transcript {
		if c.transcript[i].ID == messageID {
			c.transcript[i].Played = true
			return
		}
	}
}

// Played reports whether the message completed at least one playback.
func (c *Conversation) Played(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.transcript {
		if c.transcript[i].ID == messageID {
			return c.transcript[i].Played
		}
	}
	return false
}

// Reset discards all session state and starts over with a new identifier.
// A stuck conversation is always recoverable through here.
func (c *Conversation) Reset() {
	// Release the microphone if a recording is open.
	if c.State() == StateRecording {
		if _, err := c.recorder.Stop(); err != nil {
			log.Printf("⚠️ [%s] reset: recorder stop: %v", short(c.ID()), err)
		}
	}

	c.mu.Lock()
	old := c.id
	c.id = uuid.NewString()
	c.state = StateIdle
	c.transcript = nil
	c.pendingClip = nil
	newID := c.id
	c.mu.Unlock()

	c.forget(old)
	c.track()
	c.notifyState(StateIdle)
	log.Printf("🔄 [%s] reset -> [%s]", short(old), short(newID))
}

// append adds one entry to the transcript. A fresh auto-play entry retires
// the flag on every earlier message: at most the newest assistant message
// may speak unprompted.
func (c *Conversation) append(msg messages.Message, clip *messages.Clip) {
	c.mu.Lock()
	if msg.AutoPlay {
		for i := range c.transcript {
			c.transcript[i].AutoPlay = false
		}
	}
	c.transcript = append(c.transcript, msg)
	onAppend := c.onAppend
	c.mu.Unlock()

	if onAppend != nil {
		onAppend(msg, clip)
	}
}

// transition validates and performs a state change under the lock. from ==
// to validates without changing anything.
func (c *Conversation) transition(from, to State, op string) error {
	c.mu.Lock()
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, state)
	}
	c.state = to
	changed := from != to
	c.mu.Unlock()

	if changed {
		c.notifyState(to)
	}
	return nil
}

func (c *Conversation) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notifyState(s)
	}
}

func (c *Conversation) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
	if c.store != nil {
		c.store.Touch(context.Background(), c.ID(), s.String())
	}
}

func (c *Conversation) track() {
	if c.store != nil {
		c.store.Track(context.Background(), c.ID(), c.State().String())
	}
}

func (c *Conversation) forget(id string) {
	if c.store != nil {
		c.store.Forget(context.Background(), id)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
