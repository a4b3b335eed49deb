// Package fanout distributes accepted seat transitions to every viewer
// subscribed to an event and hands a full snapshot to late joiners.
//
// A single dispatch goroutine consumes an unbounded FIFO queue.  The
// registry's transition listener only appends to that queue, so the hold
// critical path never blocks on slow viewers, while the queue's FIFO
// order preserves the registry's per-seat transition order for every
// subscriber.
package fanout

import (
    "sync"

    "github.com/ticketpro/seatmap/internal/model"
    "github.com/ticketpro/seatmap/internal/registry"
)

// Message types delivered to viewers.  These are the wire payloads: the
// transport layer serializes a Message to JSON as-is.
const (
    MsgSnapshot     = "snapshot"
    MsgSeatHeld     = "seat_held"
    MsgSeatReleased = "seat_released"
    MsgSeatBooked   = "seat_booked"
    MsgEventRemoved = "event_removed"
    MsgError        = "error"
)

// SeatView is a seat as one particular viewer is allowed to see it.
// Holder identity is confidential: a held seat is marked ByMe for the
// holder's own session and simply "held" for everyone else.
type SeatView struct {
    model.Seat
    Status model.SeatStatus `json:"status"`
    ByMe   bool             `json:"by_me,omitempty"`
}

// Message is one server-to-viewer notification.
type Message struct {
    Type    string     `json:"type"`
    EventID uint64     `json:"event_id,omitempty"`
    SeatID  string     `json:"seat_id,omitempty"`
    ByMe    bool       `json:"by_me,omitempty"`
    Seats   []SeatView `json:"seats,omitempty"`
    Code    string     `json:"code,omitempty"`
}

// Subscriber is one connected viewer's receive side.  Messages arrive
// on a buffered channel; the transport's write pump drains it.  When
// the buffer overflows the hub treats the subscriber as dead and
// removes it everywhere (implicit unsubscribe), closing the channel.
type Subscriber struct {
    id string
    ch chan Message

    // owned by the hub's dispatch goroutine
    events  map[uint64]struct{}
    dead    bool
    removed bool
}

// NewSubscriber creates a subscriber identified by the session's
// holder ID with the given channel capacity.
func NewSubscriber(id string, buffer int) *Subscriber {
    if buffer < 1 {
        buffer = 1
    }
    return &Subscriber{
        id:     id,
        ch:     make(chan Message, buffer),
        events: make(map[uint64]struct{}),
    }
}

// ID returns the viewer identity the subscriber was created with.
func (s *Subscriber) ID() string { return s.id }

// Messages is the stream the transport write pump drains.  The channel
// is closed when the subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan Message { return s.ch }

type jobKind int

const (
    jobDelta jobKind = iota
    jobSubscribe
    jobUnsubscribe
    jobRemove
    jobDropEvent
)

type job struct {
    kind    jobKind
    delta   registry.Delta
    sub     *Subscriber
    eventID uint64
}

// Hub routes registry deltas to subscribers.  Safe for concurrent use;
// all state except the queue is confined to the dispatch goroutine.
type Hub struct {
    reg *registry.Registry

    mu      sync.Mutex
    cond    *sync.Cond
    queue   []job
    stopped bool
    done    chan struct{}

    // dispatch-goroutine state
    subs map[uint64]map[*Subscriber]struct{}
}

// New starts a hub reading snapshots from reg.
func New(reg *registry.Registry) *Hub {
    h := &Hub{
        reg:  reg,
        subs: make(map[uint64]map[*Subscriber]struct{}),
        done: make(chan struct{}),
    }
    h.cond = sync.NewCond(&h.mu)
    go h.run()
    return h
}

// Publish enqueues an accepted transition for delivery.  It is the
// registry's transition listener and must never block: it only appends
// to the queue.
func (h *Hub) Publish(d registry.Delta) {
    h.enqueue(job{kind: jobDelta, delta: d})
}

// Subscribe registers sub for an event's broadcasts.  The subscriber's
// first message for the event is a full snapshot, taken at the moment
// the subscription is processed, so late joiners converge without
// replaying history.
func (h *Hub) Subscribe(sub *Subscriber, eventID uint64) {
    h.enqueue(job{kind: jobSubscribe, sub: sub, eventID: eventID})
}

// Unsubscribe stops an event's broadcasts for sub.
func (h *Hub) Unsubscribe(sub *Subscriber, eventID uint64) {
    h.enqueue(job{kind: jobUnsubscribe, sub: sub, eventID: eventID})
}

// Remove detaches sub from every event and closes its channel.  Used on
// disconnect.
func (h *Hub) Remove(sub *Subscriber) {
    h.enqueue(job{kind: jobRemove, sub: sub})
}

// DropEvent tells every subscriber of the event that it is gone and
// unsubscribes them.
func (h *Hub) DropEvent(eventID uint64) {
    h.enqueue(job{kind: jobDropEvent, eventID: eventID})
}

// Close drains the queue, closes every subscriber channel and stops the
// dispatch goroutine.
func (h *Hub) Close() {
    h.mu.Lock()
    if h.stopped {
        h.mu.Unlock()
        return
    }
    h.stopped = true
    h.cond.Signal()
    h.mu.Unlock()
    <-h.done
}

func (h *Hub) enqueue(j job) {
    h.mu.Lock()
    if !h.stopped {
        h.queue = append(h.queue, j)
        h.cond.Signal()
    }
    h.mu.Unlock()
}

func (h *Hub) run() {
    defer close(h.done)
    for {
        h.mu.Lock()
        for len(h.queue) == 0 && !h.stopped {
            h.cond.Wait()
        }
        if len(h.queue) == 0 && h.stopped {
            h.mu.Unlock()
            h.shutdown()
            return
        }
        j := h.queue[0]
        h.queue = h.queue[1:]
        h.mu.Unlock()

        switch j.kind {
        case jobDelta:
            h.deliver(j.delta)
        case jobSubscribe:
            h.join(j.sub, j.eventID)
        case jobUnsubscribe:
            h.leave(j.sub, j.eventID)
        case jobRemove:
            h.remove(j.sub)
        case jobDropEvent:
            h.dropEvent(j.eventID)
        }
    }
}

// send attempts a non-blocking delivery.  A full buffer means the
// viewer stopped draining; the subscriber is marked dead and reaped by
// the caller.
func (h *Hub) send(sub *Subscriber, msg Message) {
    if sub.dead {
        return
    }
    select {
    case sub.ch <- msg:
    default:
        sub.dead = true
    }
}

func (h *Hub) deliver(d registry.Delta) {
    set := h.subs[d.EventID]
    if len(set) == 0 {
        return
    }
    var reap []*Subscriber
    for sub := range set {
        msg := Message{EventID: d.EventID, SeatID: d.SeatID}
        switch d.Status {
        case model.SeatHeld:
            // the origin already applied its own successful hold
            // optimistically; do not echo it back
            if d.Origin != "" && sub.id == d.Origin {
                continue
            }
            msg.Type = MsgSeatHeld
            msg.ByMe = sub.id == d.HolderID
        case model.SeatAvailable:
            msg.Type = MsgSeatReleased
        case model.SeatBooked:
            msg.Type = MsgSeatBooked
        default:
            continue
        }
        h.send(sub, msg)
        if sub.dead {
            reap = append(reap, sub)
        }
    }
    for _, sub := range reap {
        h.remove(sub)
    }
}

func (h *Hub) join(sub *Subscriber, eventID uint64) {
    if sub.dead {
        return
    }
    snap, err := h.reg.Snapshot(eventID)
    if err != nil {
        h.send(sub, Message{Type: MsgError, EventID: eventID, Code: "event_not_found"})
        return
    }
    views := make([]SeatView, 0, len(snap))
    for _, st := range snap {
        views = append(views, SeatView{
            Seat:   st.Seat,
            Status: st.Status,
            ByMe:   st.Status == model.SeatHeld && st.HolderID == sub.id,
        })
    }
    h.send(sub, Message{Type: MsgSnapshot, EventID: eventID, Seats: views})
    if sub.dead {
        h.remove(sub)
        return
    }
    set, ok := h.subs[eventID]
    if !ok {
        set = make(map[*Subscriber]struct{})
        h.subs[eventID] = set
    }
    set[sub] = struct{}{}
    sub.events[eventID] = struct{}{}
}

func (h *Hub) leave(sub *Subscriber, eventID uint64) {
    if set, ok := h.subs[eventID]; ok {
        delete(set, sub)
        if len(set) == 0 {
            delete(h.subs, eventID)
        }
    }
    delete(sub.events, eventID)
}

func (h *Hub) remove(sub *Subscriber) {
    if sub.removed {
        return
    }
    sub.removed = true
    sub.dead = true
    for eventID := range sub.events {
        if set, ok := h.subs[eventID]; ok {
            delete(set, sub)
            if len(set) == 0 {
                delete(h.subs, eventID)
            }
        }
    }
    sub.events = make(map[uint64]struct{})
    close(sub.ch)
}

// shutdown closes every remaining subscriber channel.  Runs on the
// dispatch goroutine after the queue has drained.
func (h *Hub) shutdown() {
    seen := make(map[*Subscriber]struct{})
    for _, set := range h.subs {
        for sub := range set {
            seen[sub] = struct{}{}
        }
    }
    for sub := range seen {
        h.remove(sub)
    }
}

func (h *Hub) dropEvent(eventID uint64) {
    set := h.subs[eventID]
    for sub := range set {
        h.send(sub, Message{Type: MsgEventRemoved, EventID: eventID})
        delete(sub.events, eventID)
    }
    delete(h.subs, eventID)
}
