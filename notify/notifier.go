// Package notify dispatches the booking side effect: a transient
// confirmation notice for the overlay and one refresh signal for the
// appointment-list collaborator. It holds no session state.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notice kinds emitted on the events channel.
const (
	KindBookingConfirmed = "booking_confirmed"
	KindDismiss          = "dismiss"
)

const eventBufferSize = 16

// Notice is one overlay event. A confirmation is followed by a dismiss for
// the same ID once the display duration elapses.
type Notice struct {
	ID    string
	Kind  string
	Email string
	Text  string
	At    time.Time
}

// RefreshFunc tells the external appointment list that it changed.
type RefreshFunc func()

// Notifier turns booking triggers into overlay notices and refresh signals.
// Each trigger produces exactly one notice and one refresh call; the session
// guarantees at most one trigger per submit.
type Notifier struct {
	dismissAfter time.Duration
	onRefresh    RefreshFunc
	events       chan Notice

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewNotifier creates a notifier. The notice auto-dismisses after
// dismissAfter; onRefresh may be nil.
func NewNotifier(dismissAfter time.Duration, onRefresh RefreshFunc) *Notifier {
	return &Notifier{
		dismissAfter: dismissAfter,
		onRefresh:    onRefresh,
		events:       make(chan Notice, eventBufferSize),
		timers:       make(map[string]*time.Timer),
	}
}

// Events is the overlay feed consumed by the presentation layer.
func (n *Notifier) Events() <-chan Notice {
	return n.events
}

// BookingConfirmed displays the confirmation for email and signals the
// appointment list once.
func (n *Notifier) BookingConfirmed(email string) {
	display := email
	if display == "" {
		display = "your email"
	}

	notice := Notice{
		ID:    uuid.NewString(),
		Kind:  KindBookingConfirmed,
		Email: email,
		Text:  "Appointment confirmed! Confirmation email sent to " + display,
		At:    time.Now(),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.emitLocked(notice)
	// The dismiss timer belongs to the notifier, not the caller.
	n.timers[notice.ID] = time.AfterFunc(n.dismissAfter, func() {
		n.dismiss(notice.ID)
	})
	n.mu.Unlock()

	log.Printf("📧 booking confirmed, notifying %s", display)

	if n.onRefresh != nil {
		n.onRefresh()
	}
}

// Dismiss removes the notice ahead of its timer, e.g. the user closed it.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	if t, ok := n.timers[id]; ok {
		t.Stop()
	}
	n.mu.Unlock()
	n.dismiss(id)
}

func (n *Notifier) dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if _, ok := n.timers[id]; !ok {
		return
	}
	delete(n.timers, id)
	n.emitLocked(Notice{ID: id, Kind: KindDismiss, At: time.Now()})
}

// emitLocked queues an event without blocking; a full queue drops the event.
func (n *Notifier) emitLocked(notice Notice) {
	select {
	case n.events <- notice:
	default:
		log.Printf("⚠️ notifier: event queue full, dropping %s", notice.Kind)
	}
}

// Close stops pending dismiss timers and closes the events channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	close(n.events)
}
