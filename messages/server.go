package messages

import "encoding/base64"

// Error codes
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeSubmitFailed      = "SUBMIT_FAILED"
	ErrCodeBufferFull        = "BUFFER_FULL"
	ErrCodeConnectionClosed  = "CONNECTION_CLOSED"
)

// Message types
const (
	TypeTranscript = "transcript"
	TypeSession    = "session"
	TypeStatus     = "status"
	TypeError      = "error"
	TypeNotice     = "notice"
)

// ServerMessage represents a message sent to the frontend client
type ServerMessage struct {
	Type      string      `json:"type"` // "transcript", "session", "status", "error", "notice"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// TranscriptPayload carries one appended transcript entry. Locally captured
// clips travel inline as base64 since their clip:// URL only resolves here.
type TranscriptPayload struct {
	Message  Message `json:"message"`
	ClipData string  `json:"clipData,omitempty"`
	ClipMIME string  `json:"clipMime,omitempty"`
}

// SessionPayload announces the active session identifier and state.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "recording", "processing", "ready", "pong"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NoticePayload carries a booking confirmation overlay event.
type NoticePayload struct {
	Kind  string `json:"kind"` // "booking_confirmed", "dismiss"
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Text  string `json:"text,omitempty"`
}

// NewTranscriptMessage creates a transcript update for one appended entry.
func NewTranscriptMessage(sessionID string, msg Message, clip *Clip) *ServerMessage {
	payload := TranscriptPayload{Message: msg}
	if clip != nil {
		payload.ClipData = base64.StdEncoding.EncodeToString(clip.Bytes())
		payload.ClipMIME = clip.MIME()
	}
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// NewSessionMessage announces the session identifier and current state.
func NewSessionMessage(sessionID, state string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeSession,
		SessionID: sessionID,
		Payload: SessionPayload{
			SessionID: sessionID,
			State:     state,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewNoticeMessage wraps a booking notice for the overlay feed.
func NewNoticeMessage(sessionID, kind, id, email, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeNotice,
		SessionID: sessionID,
		Payload: NoticePayload{
			Kind:  kind,
			ID:    id,
			Email: email,
			Text:  text,
		},
	}
}
