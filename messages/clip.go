package messages

import "github.com/google/uuid"

// ClipScheme prefixes the playable reference of a locally captured clip.
// Remote clips use the backend's http(s) URLs instead.
const ClipScheme = "clip://"

// Clip is a finalized unit of captured audio. It is owned by whichever
// component created it: the recorder while capturing, the session while
// pending, and the transcript once bound into a message.
type Clip struct {
	id   string
	mime string
	data []byte
}

// NewClip wraps finalized audio bytes into a clip handle.
func NewClip(mime string, data []byte) *Clip {
	return &Clip{
		id:   uuid.NewString(),
		mime: mime,
		data: data,
	}
}

// ID returns the clip identifier.
func (c *Clip) ID() string { return c.id }

// MIME returns the audio content type, e.g. "audio/wav".
func (c *Clip) MIME() string { return c.mime }

// Bytes returns the raw audio. Callers must not mutate it.
func (c *Clip) Bytes() []byte { return c.data }

// Size returns the clip length in bytes.
func (c *Clip) Size() int { return len(c.data) }

// URL returns the playable reference for this clip.
func (c *Clip) URL() string { return ClipScheme + c.id }
