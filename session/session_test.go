package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilecare/voice-reception/capture"
	"github.com/smilecare/voice-reception/gateway"
	"github.com/smilecare/voice-reception/messages"
	"github.com/smilecare/voice-reception/session"
)

type fakeGateway struct {
	greeting    *gateway.GreetingResult
	greetingErr error
	voice       *gateway.VoiceResult
	voiceErr    error

	greetingCalls int
	voiceCalls    int
	lastClip      *messages.Clip
}

func (f *fakeGateway) Greeting(ctx context.Context, sessionID string) (*gateway.GreetingResult, error) {
	f.greetingCalls++
	if f.greetingErr != nil {
		return nil, f.greetingErr
	}
	return f.greeting, nil
}

func (f *fakeGateway) ProcessVoice(ctx context.Context, sessionID string, clip *messages.Clip) (*gateway.VoiceResult, error) {
	f.voiceCalls++
	f.lastClip = clip
	if f.voiceErr != nil {
		return nil, f.voiceErr
	}
	return f.voice, nil
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	clip     *messages.Clip

	started int
	stopped int
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.started++
	return f.startErr
}

func (f *fakeRecorder) Stop() (*messages.Clip, error) {
	f.stopped++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return f.clip, nil
}

type fakeNotifier struct {
	emails []string
}

func (f *fakeNotifier) BookingConfirmed(email string) {
	f.emails = append(f.emails, email)
}

// readyConversation walks a fresh conversation through a successful greeting.
func readyConversation(t *testing.T, gw *fakeGateway, rec *fakeRecorder, opts ...session.Option) *session.Conversation {
	t.Helper()
	if gw.greeting == nil && gw.greetingErr == nil {
		gw.greeting = &gateway.GreetingResult{Text: "Welcome to SmileCare!", AudioURL: "http://backend/audio/greet.wav"}
	}
	conv := session.New(gw, rec, opts...)
	require.NoError(t, conv.StartConversation(context.Background()))
	require.Equal(t, session.StateReady, conv.State())
	return conv
}

func TestStartConversationAppendsGreeting(t *testing.T) {
	gw := &fakeGateway{greeting: &gateway.GreetingResult{
		Text:     "Hello from the clinic",
		AudioURL: "http://backend/audio/greet.wav",
	}}
	conv := session.New(gw, &fakeRecorder{})

	require.Equal(t, session.StateIdle, conv.State())
	require.NoError(t, conv.StartConversation(context.Background()))

	transcript := conv.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, messages.RoleAssistant, transcript[0].Role)
	assert.Equal(t, "Hello from the clinic", transcript[0].Content)
	assert.Equal(t, "http://backend/audio/greet.wav", transcript[0].ClipURL)
	assert.True(t, transcript[0].AutoPlay)
	assert.True(t, conv.Greeted())
}

func TestStartConversationUsesFallbackGreeting(t *testing.T) {
	gw := &fakeGateway{greeting: &gateway.GreetingResult{AudioURL: "http://backend/audio/greet.wav"}}
	conv := session.New(gw, &fakeRecorder{})

	require.NoError(t, conv.StartConversation(context.Background()))

	transcript := conv.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "Hello! How can I help you today?", transcript[0].Content)
}

func TestStartConversationFailureLeavesNotice(t *testing.T) {
	gw := &fakeGateway{greetingErr: errors.New("connection refused")}
	conv := session.New(gw, &fakeRecorder{})

	require.NoError(t, conv.StartConversation(context.Background()))

	// Failure still counts as greeted: no automatic retry loop.
	assert.True(t, conv.Greeted())
	assert.Equal(t, session.StateReady, conv.State())

	transcript := conv.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, messages.RoleSystem, transcript[0].Role)
	assert.False(t, transcript[0].AutoPlay)
}

func TestStartConversationRejectsReentry(t *testing.T) {
	gw := &fakeGateway{}
	conv := readyConversation(t, gw, &fakeRecorder{})

	err := conv.StartConversation(context.Background())
	require.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, 1, gw.greetingCalls)
	assert.Len(t, conv.Transcript(), 1)
}

func TestBeginRecordingRequiresReady(t *testing.T) {
	conv := session.New(&fakeGateway{}, &fakeRecorder{})

	err := conv.BeginRecording(context.Background())
	require.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, session.StateIdle, conv.State())
}

// blockingGateway parks Greeting until released, holding the conversation in
// its in-flight state.
type blockingGateway struct {
	fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) Greeting(ctx context.Context, sessionID string) (*gateway.GreetingResult, error) {
	close(g.entered)
	<-g.release
	return g.fakeGateway.Greeting(ctx, sessionID)
}

func TestBeginRecordingRejectedWhileProcessing(t *testing.T) {
	gw := &blockingGateway{
		fakeGateway: fakeGateway{greeting: &gateway.GreetingResult{Text: "hi"}},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	conv := session.New(gw, &fakeRecorder{})

	done := make(chan error, 1)
	go func() { done <- conv.StartConversation(context.Background()) }()
	<-gw.entered

	assert.True(t, conv.Processing())
	err := conv.BeginRecording(context.Background())
	require.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, session.StateAwaitingGreeting, conv.State())

	close(gw.release)
	require.NoError(t, <-done)
	assert.Equal(t, session.StateReady, conv.State())
}

func TestBeginRecordingRollsBackOnRecorderError(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("device busy")}
	conv := readyConversation(t, &fakeGateway{}, rec)

	err := conv.BeginRecording(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, session.StateReady, conv.State())
}

func TestBeginRecordingDenialLeavesStateUntouched(t *testing.T) {
	var states []session.State
	rec := &fakeRecorder{startErr: capture.ErrPermissionDenied}
	gw := &fakeGateway{greeting: &gateway.GreetingResult{Text: "hi"}}
	conv := session.New(gw, rec, session.WithOnState(func(s session.State) {
		states = append(states, s)
	}))
	require.NoError(t, conv.StartConversation(context.Background()))

	before := len(states)
	err := conv.BeginRecording(context.Background())
	require.ErrorIs(t, err, capture.ErrPermissionDenied)

	// No transient recording frame reaches observers on denial.
	assert.Equal(t, session.StateReady, conv.State())
	assert.Equal(t, before, len(states))
	assert.NotContains(t, states, session.StateRecording)
}

func TestRecordStopParksClip(t *testing.T) {
	clip := messages.NewClip("audio/wav", []byte("pcm-bytes"))
	rec := &fakeRecorder{clip: clip}
	conv := readyConversation(t, &fakeGateway{}, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	assert.True(t, conv.Recording())

	require.NoError(t, conv.StopRecording())
	assert.Equal(t, session.StateHasPendingClip, conv.State())
	require.NotNil(t, conv.PendingClip())
	assert.Equal(t, clip.ID(), conv.PendingClip().ID())
}

func TestStopRecordingEmptyReturnsToReady(t *testing.T) {
	rec := &fakeRecorder{clip: nil}
	conv := readyConversation(t, &fakeGateway{}, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())

	assert.Equal(t, session.StateReady, conv.State())
	assert.Nil(t, conv.PendingClip())
}

func TestCancelPendingClipDiscards(t *testing.T) {
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("x"))}
	conv := readyConversation(t, &fakeGateway{}, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.CancelPendingClip())

	assert.Equal(t, session.StateReady, conv.State())
	assert.Nil(t, conv.PendingClip())
}

func TestSubmitAppendsUserThenAssistant(t *testing.T) {
	clip := messages.NewClip("audio/wav", []byte("pcm"))
	gw := &fakeGateway{voice: &gateway.VoiceResult{
		UserText:      "I'd like a cleaning",
		AssistantText: "Sure, when works for you?",
		AudioURL:      "http://backend/audio/reply.wav",
	}}
	rec := &fakeRecorder{clip: clip}
	conv := readyConversation(t, gw, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.SubmitRecording(context.Background()))

	transcript := conv.Transcript()
	require.Len(t, transcript, 3) // greeting + user + assistant

	user, reply := transcript[1], transcript[2]
	assert.Equal(t, messages.RoleUser, user.Role)
	assert.Equal(t, "I'd like a cleaning", user.Content)
	assert.Equal(t, clip.URL(), user.ClipURL)
	assert.False(t, user.AutoPlay)

	assert.Equal(t, messages.RoleAssistant, reply.Role)
	assert.Equal(t, "Sure, when works for you?", reply.Content)
	assert.True(t, reply.AutoPlay)

	assert.Nil(t, conv.PendingClip())
	assert.Equal(t, session.StateReady, conv.State())
	assert.Same(t, clip, gw.lastClip)
}

func TestSubmitFallbackTexts(t *testing.T) {
	gw := &fakeGateway{voice: &gateway.VoiceResult{}}
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
	conv := readyConversation(t, gw, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.SubmitRecording(context.Background()))

	transcript := conv.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, "User message", transcript[1].Content)
	assert.Equal(t, "Assistant response", transcript[2].Content)
}

func TestSubmitFailureKeepsClipForRetry(t *testing.T) {
	clip := messages.NewClip("audio/wav", []byte("pcm"))
	gw := &fakeGateway{voiceErr: errors.New("502 bad gateway")}
	rec := &fakeRecorder{clip: clip}
	conv := readyConversation(t, gw, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())

	err := conv.SubmitRecording(context.Background())
	require.ErrorIs(t, err, session.ErrSubmitFailed)

	// The clip survives so the same recording can be retried.
	assert.Equal(t, session.StateHasPendingClip, conv.State())
	require.NotNil(t, conv.PendingClip())
	assert.Len(t, conv.Transcript(), 1)

	// Retry succeeds once the backend recovers.
	gw.voiceErr = nil
	gw.voice = &gateway.VoiceResult{UserText: "hello", AssistantText: "hi"}
	require.NoError(t, conv.SubmitRecording(context.Background()))
	assert.Len(t, conv.Transcript(), 3)
	assert.Equal(t, 2, gw.voiceCalls)
}

func TestSubmitNotifiesBookingOnce(t *testing.T) {
	cases := []struct {
		name   string
		result *gateway.VoiceResult
		email  string
	}{
		{
			name: "intent signal",
			result: &gateway.VoiceResult{
				Intent:   gateway.IntentBookAppointment,
				Metadata: &gateway.VoiceMetadata{Email: "pat@example.com"},
			},
			email: "pat@example.com",
		},
		{
			name:   "booked flag with top-level email",
			result: &gateway.VoiceResult{AppointmentBooked: true, Email: "sam@example.com"},
			email:  "sam@example.com",
		},
		{
			name: "both signals still notify once",
			result: &gateway.VoiceResult{
				Intent:            gateway.IntentBookAppointment,
				AppointmentBooked: true,
				Email:             "lee@example.com",
			},
			email: "lee@example.com",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			gw := &fakeGateway{voice: tc.result}
			rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
			conv := readyConversation(t, gw, rec, session.WithNotifier(notifier))

			require.NoError(t, conv.BeginRecording(context.Background()))
			require.NoError(t, conv.StopRecording())
			require.NoError(t, conv.SubmitRecording(context.Background()))

			require.Len(t, notifier.emails, 1)
			assert.Equal(t, tc.email, notifier.emails[0])
		})
	}
}

func TestSubmitWithoutBookingDoesNotNotify(t *testing.T) {
	notifier := &fakeNotifier{}
	gw := &fakeGateway{voice: &gateway.VoiceResult{UserText: "hi", AssistantText: "hello"}}
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
	conv := readyConversation(t, gw, rec, session.WithNotifier(notifier))

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.SubmitRecording(context.Background()))

	assert.Empty(t, notifier.emails)
}

func TestAutoPlayRetiredOnNewerAssistantMessage(t *testing.T) {
	gw := &fakeGateway{voice: &gateway.VoiceResult{UserText: "u", AssistantText: "a"}}
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
	conv := readyConversation(t, gw, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.SubmitRecording(context.Background()))

	transcript := conv.Transcript()
	require.Len(t, transcript, 3)

	// Only the newest assistant message keeps the auto-play flag.
	autoPlays := 0
	for _, msg := range transcript {
		if msg.AutoPlay {
			autoPlays++
		}
	}
	assert.Equal(t, 1, autoPlays)
	assert.True(t, transcript[2].AutoPlay)
}

func TestMarkPlayedIsIdempotent(t *testing.T) {
	conv := readyConversation(t, &fakeGateway{}, &fakeRecorder{})

	id := conv.Transcript()[0].ID
	assert.False(t, conv.Played(id))

	conv.MarkPlayed(id)
	assert.True(t, conv.Played(id))

	conv.MarkPlayed(id)
	assert.True(t, conv.Played(id))

	// Unknown IDs are ignored.
	conv.MarkPlayed("nope")
	assert.False(t, conv.Played("nope"))
}

func TestResetStartsOver(t *testing.T) {
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
	conv := readyConversation(t, &fakeGateway{}, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())

	oldID := conv.ID()
	conv.Reset()

	assert.NotEqual(t, oldID, conv.ID())
	assert.Equal(t, session.StateIdle, conv.State())
	assert.Empty(t, conv.Transcript())
	assert.Nil(t, conv.PendingClip())
	assert.False(t, conv.Greeted())
}

func TestResetReleasesOpenMicrophone(t *testing.T) {
	rec := &fakeRecorder{}
	conv := readyConversation(t, &fakeGateway{}, rec)

	require.NoError(t, conv.BeginRecording(context.Background()))
	conv.Reset()

	assert.Equal(t, 1, rec.stopped)
	assert.Equal(t, session.StateIdle, conv.State())

	// The fresh session can be greeted and used again.
	require.NoError(t, conv.StartConversation(context.Background()))
	assert.Equal(t, session.StateReady, conv.State())
}

func TestStateObserverSeesTransitions(t *testing.T) {
	var states []session.State
	gw := &fakeGateway{voice: &gateway.VoiceResult{UserText: "u", AssistantText: "a"}}
	rec := &fakeRecorder{clip: messages.NewClip("audio/wav", []byte("pcm"))}
	conv := session.New(gw, rec, session.WithOnState(func(s session.State) {
		states = append(states, s)
	}))

	require.NoError(t, conv.StartConversation(context.Background()))
	require.NoError(t, conv.BeginRecording(context.Background()))
	require.NoError(t, conv.StopRecording())
	require.NoError(t, conv.SubmitRecording(context.Background()))

	assert.Equal(t, []session.State{
		session.StateAwaitingGreeting,
		session.StateReady,
		session.StateRecording,
		session.StateHasPendingClip,
		session.StateSubmitting,
		session.StateReady,
	}, states)
}

func TestTranscriptReturnsCopy(t *testing.T) {
	conv := readyConversation(t, &fakeGateway{}, &fakeRecorder{})

	transcript := conv.Transcript()
	require.Len(t, transcript, 1)
	transcript[0].Content = "mutated"

	assert.NotEqual(t, "mutated", conv.Transcript()[0].Content)
}
