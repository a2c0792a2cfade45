package messages

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry. Immutable once appended, except for the
// Played flag which is flipped exactly once by the session when the clip
// first reaches the playing state.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ClipURL   string    `json:"clipUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	AutoPlay  bool      `json:"autoPlay,omitempty"`
	Played    bool      `json:"played,omitempty"`
}

// HasClip reports whether the message carries playable audio.
func (m *Message) HasClip() bool {
	return m.ClipURL != ""
}

// NewAssistantMessage creates an assistant reply. Freshly received replies are
// appended with autoPlay set so the widget speaks them once.
func NewAssistantMessage(content, clipURL string, autoPlay bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		ClipURL:   clipURL,
		Timestamp: time.Now(),
		AutoPlay:  autoPlay,
	}
}

// NewUserMessage creates the echo of a submitted recording.
func NewUserMessage(content string, clip *Clip) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
	if clip != nil {
		msg.ClipURL = clip.URL()
	}
	return msg
}

// NewSystemNotice creates an in-transcript notice with no audio attached.
func NewSystemNotice(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}
