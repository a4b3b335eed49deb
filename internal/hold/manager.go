// Package hold owns the lifecycle of seat holds: acquisition, manual
// release, bulk release on session teardown, expiry and the final
// commit into a booking.  It is the only caller that mutates the seat
// registry.
package hold

import (
    "errors"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/ticketpro/seatmap/internal/clock"
    "github.com/ticketpro/seatmap/internal/model"
    "github.com/ticketpro/seatmap/internal/registry"
)

var (
    // ErrAlreadyHeld is returned when another viewer currently holds
    // the seat.  The race loser gets this instead of being queued.
    ErrAlreadyHeld = errors.New("seat already held")
    // ErrAlreadyBooked is returned when the seat has been permanently
    // booked.  Booked seats never become holdable again.
    ErrAlreadyBooked = errors.New("seat already booked")
    // ErrNotHeldByCaller is returned when releasing a seat the caller
    // does not currently hold.  Callers treat this as benign stale
    // local state.
    ErrNotHeldByCaller = errors.New("seat not held by caller")
    // ErrNoSeats is returned when a commit names no seats.
    ErrNoSeats = errors.New("no seats to commit")
)

// PartialCommitError reports the seats that failed the commit
// precondition.  No seat was booked; the caller can drop the failing
// IDs from its cart and retry with the rest.
type PartialCommitError struct {
    Failed []string
}

func (e *PartialCommitError) Error() string {
    return fmt.Sprintf("commit rejected, seats not held by caller: %s", strings.Join(e.Failed, ","))
}

// DefaultHoldTTL is how long a hold lasts unless configured otherwise.
const DefaultHoldTTL = 5 * time.Minute

type seatKey struct {
    eventID uint64
    seatID  string
}

// Manager coordinates holds on top of the registry.  It tracks which
// seats each holder currently has so a session can be torn down with a
// single ReleaseAll, and arms one expiry timer per outstanding hold.
type Manager struct {
    reg   *registry.Registry
    clk   clock.Clock
    ttl   time.Duration
    sched *Scheduler

    mu    sync.Mutex
    holds map[string]map[seatKey]struct{} // holderID -> held seats
}

// Option configures a Manager.
type Option func(*Manager)

// WithHoldTTL overrides the default hold duration.
func WithHoldTTL(d time.Duration) Option {
    return func(m *Manager) {
        if d > 0 {
            m.ttl = d
        }
    }
}

// NewManager builds a Manager with its own expiry scheduler.
func NewManager(reg *registry.Registry, clk clock.Clock, opts ...Option) *Manager {
    m := &Manager{
        reg:   reg,
        clk:   clk,
        ttl:   DefaultHoldTTL,
        holds: make(map[string]map[seatKey]struct{}),
    }
    for _, opt := range opts {
        opt(m)
    }
    m.sched = NewScheduler(m.expire)
    return m
}

// HoldTTL reports the configured hold duration.
func (m *Manager) HoldTTL() time.Duration { return m.ttl }

// Acquire claims a seat for holderID until now+TTL.  Exactly one of N
// concurrent callers wins; losers get ErrAlreadyHeld (or
// ErrAlreadyBooked when the seat was sold in between).
func (m *Manager) Acquire(eventID uint64, seatID, holderID string) (time.Time, error) {
    deadline := m.clk.Now().Add(m.ttl)
    observed, err := m.reg.Apply(registry.Transition{
        EventID:  eventID,
        SeatID:   seatID,
        From:     model.SeatAvailable,
        To:       model.SeatHeld,
        HolderID: holderID,
        Deadline: deadline,
        Origin:   holderID,
    })
    if err != nil {
        if errors.Is(err, registry.ErrConflict) {
            if observed == model.SeatBooked {
                return time.Time{}, ErrAlreadyBooked
            }
            return time.Time{}, ErrAlreadyHeld
        }
        return time.Time{}, err
    }

    key := seatKey{eventID, seatID}
    m.mu.Lock()
    set, ok := m.holds[holderID]
    if !ok {
        set = make(map[seatKey]struct{})
        m.holds[holderID] = set
    }
    set[key] = struct{}{}
    m.mu.Unlock()

    m.sched.Arm(eventID, seatID, deadline.Sub(m.clk.Now()), deadline)
    return deadline, nil
}

// Release gives a held seat back.  The caller must be the current
// holder; anything else is ErrNotHeldByCaller and the seat is left
// alone.
func (m *Manager) Release(eventID uint64, seatID, holderID string) error {
    _, err := m.reg.Apply(registry.Transition{
        EventID:    eventID,
        SeatID:     seatID,
        From:       model.SeatHeld,
        To:         model.SeatAvailable,
        PrevHolder: holderID,
        Origin:     holderID,
    })
    if err != nil {
        if errors.Is(err, registry.ErrConflict) {
            m.forget(holderID, seatKey{eventID, seatID})
            return ErrNotHeldByCaller
        }
        return err
    }
    m.sched.Disarm(eventID, seatID)
    m.forget(holderID, seatKey{eventID, seatID})
    return nil
}

// ReleaseAll releases every seat the holder currently has across all
// events.  It never fails: seats that already transitioned away (booked
// or re-held after expiry) are skipped silently.  Returns the number of
// seats actually released.
func (m *Manager) ReleaseAll(holderID string) int {
    m.mu.Lock()
    set := m.holds[holderID]
    keys := make([]seatKey, 0, len(set))
    for k := range set {
        keys = append(keys, k)
    }
    delete(m.holds, holderID)
    m.mu.Unlock()

    // stable order keeps broadcast sequences deterministic for a teardown
    sort.Slice(keys, func(i, j int) bool {
        if keys[i].eventID != keys[j].eventID {
            return keys[i].eventID < keys[j].eventID
        }
        return keys[i].seatID < keys[j].seatID
    })

    released := 0
    for _, k := range keys {
        _, err := m.reg.Apply(registry.Transition{
            EventID:    k.eventID,
            SeatID:     k.seatID,
            From:       model.SeatHeld,
            To:         model.SeatAvailable,
            PrevHolder: holderID,
            Origin:     holderID,
        })
        if err != nil {
            continue
        }
        m.sched.Disarm(k.eventID, k.seatID)
        released++
    }
    return released
}

// Commit books all named seats at once.  Every seat must currently be
// held by holderID; otherwise nothing is booked and the failing seat
// IDs come back in a PartialCommitError.  The stale set entries for
// failed seats are dropped so a later ReleaseAll does not retry them.
func (m *Manager) Commit(eventID uint64, seatIDs []string, holderID string) error {
    if len(seatIDs) == 0 {
        return ErrNoSeats
    }
    failed, err := m.reg.ApplyAll(eventID, seatIDs, model.SeatHeld, model.SeatBooked, holderID, holderID)
    if err != nil {
        if errors.Is(err, registry.ErrConflict) {
            for _, id := range failed {
                m.forget(holderID, seatKey{eventID, id})
            }
            return &PartialCommitError{Failed: failed}
        }
        return err
    }
    for _, id := range seatIDs {
        m.sched.Disarm(eventID, id)
        m.forget(holderID, seatKey{eventID, id})
    }
    return nil
}

// Close stops all pending expiry timers.
func (m *Manager) Close() {
    m.sched.Stop()
}

func (m *Manager) forget(holderID string, key seatKey) {
    m.mu.Lock()
    if set, ok := m.holds[holderID]; ok {
        delete(set, key)
        if len(set) == 0 {
            delete(m.holds, holderID)
        }
    }
    m.mu.Unlock()
}

// expire runs when a hold's timer fires.  The armed deadline is matched
// against the seat's current state through the registry CAS, so a hold
// that was released, committed or re-acquired in the meantime makes the
// firing a no-op.
func (m *Manager) expire(eventID uint64, seatID string, armed time.Time) {
    st, err := m.reg.Get(eventID, seatID)
    if err != nil || st.Status != model.SeatHeld || !st.HoldDeadline.Equal(armed) {
        return // stale timer
    }
    holder := st.HolderID
    _, err = m.reg.Apply(registry.Transition{
        EventID:      eventID,
        SeatID:       seatID,
        From:         model.SeatHeld,
        To:           model.SeatAvailable,
        PrevHolder:   holder,
        PrevDeadline: armed,
        // no Origin: expiry broadcasts reach every subscriber including
        // the former holder
    })
    if err != nil {
        return // lost the race against a manual release or commit
    }
    m.forget(holder, seatKey{eventID, seatID})
}
