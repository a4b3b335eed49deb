// Package registry holds the authoritative in-memory seat state for
// every active event.  All status changes go through Apply or ApplyAll,
// which implement compare-and-swap semantics: a transition succeeds only
// if the seat's current status (and, when requested, holder and deadline)
// still match the caller's expectation.  This is the single serialization
// point that prevents two viewers from holding the same seat.
package registry

import (
    "errors"
    "slices"
    "sort"
    "sync"
    "time"

    "github.com/ticketpro/seatmap/internal/model"
)

var (
    // ErrEventNotFound is returned when the event has never been loaded
    // or has been dropped.
    ErrEventNotFound = errors.New("event not found")
    // ErrSeatNotFound is returned when the seat identifier is unknown
    // within the event.
    ErrSeatNotFound = errors.New("seat not found")
    // ErrConflict is returned when a compare-and-swap precondition does
    // not match the seat's current state.  The registry performs no
    // mutation on conflict.
    ErrConflict = errors.New("seat state conflict")
    // ErrEventExists is returned when loading an event that is already
    // present.
    ErrEventExists = errors.New("event already loaded")
)

// Delta describes one accepted transition.  Deltas are emitted to the
// configured listener in the exact order transitions are accepted for a
// given seat; this ordering is the canonical one that fan-out must
// preserve.
type Delta struct {
    EventID  uint64
    SeatID   string
    Status   model.SeatStatus
    HolderID string // holder after the transition; empty unless Status is held
    Origin   string // session that caused the transition; empty for expiry
}

// Listener receives accepted transitions.  It is invoked while the seat
// is still locked and therefore must not block or call back into the
// registry.
type Listener func(Delta)

// SeatState is a point-in-time view of one seat: the immutable catalog
// attributes plus the live status.  HolderID and HoldDeadline are set
// iff Status is held.
type SeatState struct {
    model.Seat
    Status       model.SeatStatus
    HolderID     string
    HoldDeadline time.Time
}

// Transition is a request to move one seat from one status to another.
type Transition struct {
    EventID uint64
    SeatID  string
    From    model.SeatStatus
    To      model.SeatStatus

    // HolderID and Deadline are recorded on the seat when To is held.
    HolderID string
    Deadline time.Time

    // PrevHolder, when non-empty, must match the seat's current holder
    // for the transition to apply.
    PrevHolder string
    // PrevDeadline, when non-zero, must match the seat's current hold
    // deadline.  Expiry uses this to discard stale timers.
    PrevDeadline time.Time

    // Origin identifies the session that caused the transition and is
    // carried into the emitted Delta.  Empty for scheduler-driven expiry.
    Origin string
}

type seat struct {
    mu       sync.Mutex
    info     model.Seat
    status   model.SeatStatus
    holder   string
    deadline time.Time
}

type event struct {
    seats map[string]*seat
    order []string // catalog order, used for snapshots
}

// Registry is safe for concurrent use.  The outer lock only guards the
// event table; each seat carries its own mutex so unrelated seats never
// contend.
type Registry struct {
    mu       sync.RWMutex
    events   map[uint64]*event
    listener Listener
}

// New returns an empty registry.  listener may be nil.
func New(listener Listener) *Registry {
    return &Registry{
        events:   make(map[uint64]*event),
        listener: listener,
    }
}

// LoadEvent registers an event's seat list.  Seats whose IDs appear in
// booked start out booked (bookings persisted by an earlier run);
// everything else starts available.  The registry never re-reads the
// catalog after this call.
func (r *Registry) LoadEvent(eventID uint64, seats []model.Seat, booked []string) error {
    bookedSet := make(map[string]struct{}, len(booked))
    for _, id := range booked {
        bookedSet[id] = struct{}{}
    }
    ev := &event{
        seats: make(map[string]*seat, len(seats)),
        order: make([]string, 0, len(seats)),
    }
    for _, s := range seats {
        st := model.SeatAvailable
        if _, ok := bookedSet[s.ID]; ok {
            st = model.SeatBooked
        }
        ev.seats[s.ID] = &seat{info: s, status: st}
        ev.order = append(ev.order, s.ID)
    }

    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.events[eventID]; ok {
        return ErrEventExists
    }
    r.events[eventID] = ev
    return nil
}

// DropEvent removes an event and all its seat state.  It reports
// whether the event existed.
func (r *Registry) DropEvent(eventID uint64) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.events[eventID]; !ok {
        return false
    }
    delete(r.events, eventID)
    return true
}

func (r *Registry) lookup(eventID uint64, seatID string) (*seat, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    ev, ok := r.events[eventID]
    if !ok {
        return nil, ErrEventNotFound
    }
    s, ok := ev.seats[seatID]
    if !ok {
        return nil, ErrSeatNotFound
    }
    return s, nil
}

// Get returns the current state of one seat.
func (r *Registry) Get(eventID uint64, seatID string) (SeatState, error) {
    s, err := r.lookup(eventID, seatID)
    if err != nil {
        return SeatState{}, err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.view(), nil
}

// view must be called with the seat's mutex held.
func (s *seat) view() SeatState {
    return SeatState{
        Seat:         s.info,
        Status:       s.status,
        HolderID:     s.holder,
        HoldDeadline: s.deadline,
    }
}

// matches reports whether the transition's preconditions hold against
// the seat's current state.  Must be called with the seat locked.
func (s *seat) matches(t Transition) bool {
    if s.status != t.From {
        return false
    }
    if t.PrevHolder != "" && s.holder != t.PrevHolder {
        return false
    }
    if !t.PrevDeadline.IsZero() && !s.deadline.Equal(t.PrevDeadline) {
        return false
    }
    return true
}

// apply mutates the seat and returns the delta to emit.  Must be called
// with the seat locked and only after matches reported true.
func (s *seat) apply(t Transition) Delta {
    s.status = t.To
    if t.To == model.SeatHeld {
        s.holder = t.HolderID
        s.deadline = t.Deadline
    } else {
        // holder and deadline exist only while held
        s.holder = ""
        s.deadline = time.Time{}
    }
    return Delta{
        EventID:  t.EventID,
        SeatID:   t.SeatID,
        Status:   s.status,
        HolderID: s.holder,
        Origin:   t.Origin,
    }
}

// Apply performs one compare-and-swap transition.  On success it emits
// the delta to the listener before releasing the seat, so listeners see
// transitions for any single seat in accepted order.  On conflict it
// returns ErrConflict along with the observed status and mutates
// nothing.
func (r *Registry) Apply(t Transition) (model.SeatStatus, error) {
    s, err := r.lookup(t.EventID, t.SeatID)
    if err != nil {
        return "", err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.matches(t) {
        return s.status, ErrConflict
    }
    d := s.apply(t)
    if r.listener != nil {
        r.listener(d)
    }
    return s.status, nil
}

// ApplyAll atomically transitions a set of seats of one event, all of
// which must currently be in status from with holder prevHolder.  Either
// every seat transitions or none does; on failure the seat IDs that
// missed the precondition (including unknown IDs) are returned with
// ErrConflict.  Seats are locked in sorted ID order to keep concurrent
// multi-seat calls deadlock-free.
func (r *Registry) ApplyAll(eventID uint64, seatIDs []string, from, to model.SeatStatus, prevHolder, origin string) ([]string, error) {
    r.mu.RLock()
    ev, ok := r.events[eventID]
    r.mu.RUnlock()
    if !ok {
        return nil, ErrEventNotFound
    }

    // sort and dedupe: sorted order prevents lock-order deadlocks, and a
    // duplicated ID must not lock the same seat twice
    ordered := append([]string(nil), seatIDs...)
    sort.Strings(ordered)
    ordered = slices.Compact(ordered)

    locked := make([]*seat, 0, len(ordered))
    unlock := func() {
        for i := len(locked) - 1; i >= 0; i-- {
            locked[i].mu.Unlock()
        }
    }

    var failed []string
    for _, id := range ordered {
        s, ok := ev.seats[id]
        if !ok {
            failed = append(failed, id)
            continue
        }
        s.mu.Lock()
        locked = append(locked, s)
        if s.status != from || s.holder != prevHolder {
            failed = append(failed, id)
        }
    }
    if len(failed) > 0 {
        unlock()
        return failed, ErrConflict
    }

    deltas := make([]Delta, 0, len(ordered))
    for i, id := range ordered {
        d := locked[i].apply(Transition{
            EventID: eventID,
            SeatID:  id,
            To:      to,
            Origin:  origin,
        })
        deltas = append(deltas, d)
    }
    if r.listener != nil {
        for _, d := range deltas {
            r.listener(d)
        }
    }
    unlock()
    return nil, nil
}

// Snapshot returns the state of every seat of the event in catalog
// order.  Each seat is read under its own lock; the snapshot is
// consistent per seat, which is the granularity fan-out ordering is
// defined on.
func (r *Registry) Snapshot(eventID uint64) ([]SeatState, error) {
    r.mu.RLock()
    ev, ok := r.events[eventID]
    r.mu.RUnlock()
    if !ok {
        return nil, ErrEventNotFound
    }
    out := make([]SeatState, 0, len(ev.order))
    for _, id := range ev.order {
        s := ev.seats[id]
        s.mu.Lock()
        out = append(out, s.view())
        s.mu.Unlock()
    }
    return out, nil
}

// Events returns the IDs of all loaded events.
func (r *Registry) Events() []uint64 {
    r.mu.RLock()
    defer r.mu.RUnlock()
    ids := make([]uint64, 0, len(r.events))
    for id := range r.events {
        ids = append(ids, id)
    }
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    return ids
}
