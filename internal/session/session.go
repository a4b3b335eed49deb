// Package session maps transport connections to viewer identities and
// guarantees cleanup.  Every connection gets a fresh UUID that doubles
// as the holder ID for all seat operations; reconnecting yields a brand
// new identity with no claim to previously held seats.
package session

import (
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/ticketpro/seatmap/internal/fanout"
    "github.com/ticketpro/seatmap/internal/hold"
)

// subscriberBuffer is the per-connection fan-out buffer.  A viewer that
// falls this many messages behind is treated as dead by the hub.
const subscriberBuffer = 64

// Boundary creates sessions bound to the hub and hold manager.
type Boundary struct {
    hub   *fanout.Hub
    holds *hold.Manager
}

// NewBoundary wires the session layer to its collaborators.
func NewBoundary(hub *fanout.Hub, holds *hold.Manager) *Boundary {
    if hub == nil || holds == nil {
        panic("nil dependency passed to NewBoundary")
    }
    return &Boundary{hub: hub, holds: holds}
}

// Session is one connected viewer.  All methods are safe for the
// single reader goroutine a connection runs; Close may be called from
// any goroutine and any number of times, but tears down exactly once.
type Session struct {
    id    string
    sub   *fanout.Subscriber
    hub   *fanout.Hub
    holds *hold.Manager
    once  sync.Once
}

// Open starts a session for a newly established connection.
func (b *Boundary) Open() *Session {
    id := uuid.NewString()
    return &Session{
        id:    id,
        sub:   fanout.NewSubscriber(id, subscriberBuffer),
        hub:   b.hub,
        holds: b.holds,
    }
}

// ID is the connection identity used as holder ID.
func (s *Session) ID() string { return s.id }

// Messages is the stream of fan-out messages for this session.
func (s *Session) Messages() <-chan fanout.Message { return s.sub.Messages() }

// Subscribe starts delivery of an event's transitions, beginning with a
// full snapshot.
func (s *Session) Subscribe(eventID uint64) {
    s.hub.Subscribe(s.sub, eventID)
}

// Unsubscribe stops delivery for an event.  Holds are not affected;
// they continue to run out their deadlines.
func (s *Session) Unsubscribe(eventID uint64) {
    s.hub.Unsubscribe(s.sub, eventID)
}

// Hold claims a seat for this session.
func (s *Session) Hold(eventID uint64, seatID string) (time.Time, error) {
    return s.holds.Acquire(eventID, seatID, s.id)
}

// Release gives a held seat back.
func (s *Session) Release(eventID uint64, seatID string) error {
    return s.holds.Release(eventID, seatID, s.id)
}

// Commit books the session's held seats, all-or-nothing.
func (s *Session) Commit(eventID uint64, seatIDs []string) error {
    return s.holds.Commit(eventID, seatIDs, s.id)
}

// Close tears the session down: the subscriber leaves the hub and every
// outstanding hold is released immediately, not on its deadline.  Runs
// exactly once regardless of how many times it is called.
func (s *Session) Close() {
    s.once.Do(func() {
        s.hub.Remove(s.sub)
        s.holds.ReleaseAll(s.id)
    })
}
