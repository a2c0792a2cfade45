package messages

import "encoding/json"

// ClientMessage represents a message from the frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "control"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains one base64-encoded microphone chunk. Binary websocket
// frames carry the same bytes without the envelope.
type AudioPayload struct {
	Data string `json:"data"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action    string `json:"action"` // see Action* constants
	MessageID string `json:"messageId,omitempty"`
}

// Control actions accepted from the client.
const (
	ActionPing              = "ping"
	ActionStartConversation = "start_conversation"
	ActionStartRecording    = "start_recording"
	ActionStopRecording     = "stop_recording"
	ActionSubmit            = "submit"
	ActionCancel            = "cancel"
	ActionMarkPlayed        = "mark_played"
	ActionReset             = "reset"
)
