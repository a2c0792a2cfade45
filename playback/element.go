package playback

import (
	"context"
	"errors"
	"time"
)

// ErrAutoplayBlocked is returned by Element.Start when the platform refuses
// unsolicited playback. The player swallows it: the clip stays visible with
// manual controls.
var ErrAutoplayBlocked = errors.New("unsolicited playback blocked")

// Element is the platform audio object a Player drives. One element backs
// exactly one clip.
type Element interface {
	// Load prepares the clip behind url and returns its duration when known.
	Load(ctx context.Context, url string) (time.Duration, error)
	// Start begins or resumes playback from the current position.
	Start() error
	// Stop pauses playback, keeping the position.
	Stop() error
	// Seek moves the playback position.
	Seek(pos time.Duration) error
	// Position reports the current playback position.
	Position() time.Duration
	// SetOnEnded registers the callback invoked when playback reaches the
	// end of the clip.
	SetOnEnded(fn func())
	// Close releases the element.
	Close() error
}
