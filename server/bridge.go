package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/smilecare/voice-reception/capture"
	"github.com/smilecare/voice-reception/config"
	"github.com/smilecare/voice-reception/gateway"
	"github.com/smilecare/voice-reception/messages"
	"github.com/smilecare/voice-reception/notify"
	"github.com/smilecare/voice-reception/session"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Bridge wires one websocket connection to one conversation: binary frames
// feed the microphone, control frames drive the state machine, transcript
// and notice frames flow back.
type Bridge struct {
	conn     *websocket.Conn
	conv     *session.Conversation
	feed     *capture.Feed
	notifier *notify.Notifier

	// Non-blocking writes, single writer goroutine.
	writeChan chan *messages.ServerMessage

	mu        sync.RWMutex
	closed    bool
	closeChan chan struct{}
}

// NewBridge builds the per-connection conversation plumbing.
func NewBridge(conn *websocket.Conn, cfg *config.Config, gw *gateway.Client, store *session.Store, onRefresh notify.RefreshFunc) *Bridge {
	conn.SetReadLimit(512 * 1024) // 512KB max message

	b := &Bridge{
		conn:      conn,
		feed:      capture.NewFeed(),
		notifier:  notify.NewNotifier(cfg.NotifyDismissAfter, onRefresh),
		writeChan: make(chan *messages.ServerMessage, writeBufferSize),
		closeChan: make(chan struct{}),
	}

	recorder := capture.NewRecorder(b.feed, cfg.MaxClipSize)
	b.conv = session.New(gw, recorder,
		session.WithNotifier(b.notifier),
		session.WithStore(store),
		session.WithOnAppend(b.handleAppend),
		session.WithOnState(b.handleState),
	)

	return b
}

// SessionID returns the active conversation identifier.
func (b *Bridge) SessionID() string {
	return b.conv.ID()
}

// Conversation exposes the underlying session, mainly for tests.
func (b *Bridge) Conversation() *session.Conversation {
	return b.conv
}

// Done is closed when the bridge has shut down.
func (b *Bridge) Done() <-chan struct{} {
	return b.closeChan
}

// Run starts the read, write, and notice pumps.
func (b *Bridge) Run() {
	go b.writePump()
	go b.noticePump()
	b.queue(messages.NewSessionMessage(b.conv.ID(), b.conv.State().String()))
	b.queue(messages.NewStatusMessage(b.conv.ID(), "connected", "Bridge established"))
	go b.readLoop()
}

// writePump handles all outgoing messages in a single goroutine
func (b *Bridge) writePump() {
	defer func() {
		b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		b.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-b.closeChan:
			return
		case msg := <-b.writeChan:
			if err := b.writeJSON(msg); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) writeJSON(msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// noticePump forwards booking notices to the overlay.
func (b *Bridge) noticePump() {
	for notice := range b.notifier.Events() {
		b.queue(messages.NewNoticeMessage(b.conv.ID(), notice.Kind, notice.ID, notice.Email, notice.Text))
	}
}

// queue adds a message to the write queue (non-blocking). writeChan is never
// closed, so a late sender racing shutdown cannot panic; its message is
// simply never drained.
func (b *Bridge) queue(msg *messages.ServerMessage) {
	select {
	case <-b.closeChan:
	case b.writeChan <- msg:
	default:
		// Queue full, drop message (shouldn't happen with proper sizing)
	}
}

// handleAppend forwards each transcript entry to the UI. Local clips travel
// inline since their clip:// URLs only resolve in this process.
func (b *Bridge) handleAppend(msg messages.Message, clip *messages.Clip) {
	b.queue(messages.NewTranscriptMessage(b.conv.ID(), msg, clip))
}

func (b *Bridge) handleState(state session.State) {
	b.queue(messages.NewSessionMessage(b.conv.ID(), state.String()))
}

func (b *Bridge) readLoop() {
	defer b.Close()

	for {
		select {
		case <-b.closeChan:
			return
		default:
			messageType, message, err := b.conn.ReadMessage()
			if err != nil {
				return
			}

			// Binary frames are raw microphone chunks while recording.
			if messageType == websocket.BinaryMessage {
				b.pushChunk(message)
				continue
			}

			var clientMsg messages.ClientMessage
			if err := sonic.Unmarshal(message, &clientMsg); err != nil {
				b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}

			b.processClientMessage(&clientMsg)
		}
	}
}

func (b *Bridge) pushChunk(chunk []byte) {
	if err := b.feed.Push(chunk); err != nil {
		switch {
		case errors.Is(err, capture.ErrStreamClosed):
			// Chunks arriving outside a recording are dropped silently.
		case errors.Is(err, capture.ErrBufferFull):
			b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeBufferFull, "Recording buffer full"))
		default:
			log.Printf("⚠️ [%s] audio chunk rejected: %v", shortID(b.conv.ID()), err)
		}
	}
}

func (b *Bridge) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case "audio":
		var payload messages.AudioPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return
		}
		b.pushChunk(chunk)

	case "control":
		var payload messages.ControlPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		b.handleControl(&payload)

	default:
		b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

// handleControl dispatches a control action. Gateway-bound operations run
// off the read loop so audio frames keep flowing; the state machine rejects
// re-entrant calls on its own.
func (b *Bridge) handleControl(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		b.queue(messages.NewStatusMessage(b.conv.ID(), "pong", ""))

	case messages.ActionStartConversation:
		go func() { b.report(b.conv.StartConversation(context.Background())) }()

	case messages.ActionStartRecording:
		b.report(b.conv.BeginRecording(context.Background()))

	case messages.ActionStopRecording:
		b.report(b.conv.StopRecording())

	case messages.ActionSubmit:
		go func() { b.report(b.conv.SubmitRecording(context.Background())) }()

	case messages.ActionCancel:
		b.report(b.conv.CancelPendingClip())

	case messages.ActionMarkPlayed:
		b.conv.MarkPlayed(payload.MessageID)

	case messages.ActionReset:
		b.conv.Reset()
		b.queue(messages.NewSessionMessage(b.conv.ID(), b.conv.State().String()))

	default:
		b.queue(messages.NewErrorMessage(b.conv.ID(), messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

// report converts an operation error into the matching error frame.
func (b *Bridge) report(err error) {
	if err == nil {
		return
	}
	id := b.conv.ID()
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		b.queue(messages.NewErrorMessage(id, messages.ErrCodeInvalidTransition, err.Error()))
	case errors.Is(err, capture.ErrPermissionDenied):
		b.queue(messages.NewErrorMessage(id, messages.ErrCodePermissionDenied, "Please allow microphone access."))
	case errors.Is(err, session.ErrSubmitFailed):
		b.queue(messages.NewErrorMessage(id, messages.ErrCodeSubmitFailed, "Error processing audio. Please try again."))
	case errors.Is(err, gateway.ErrStatus):
		b.queue(messages.NewErrorMessage(id, messages.ErrCodeSubmitFailed, err.Error()))
	default:
		b.queue(messages.NewErrorMessage(id, messages.ErrCodeInvalidMessage, err.Error()))
	}
}

// Close terminates the bridge and cleans up resources
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closeChan)

	// Release the microphone if the UI vanished mid-recording.
	if b.conv.Recording() {
		if err := b.conv.StopRecording(); err != nil {
			log.Printf("⚠️ [%s] close: %v", shortID(b.conv.ID()), err)
		}
	}

	b.notifier.Close()
	return b.conn.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
