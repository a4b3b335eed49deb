package hold

import (
    "sync"
    "time"
)

// Scheduler tracks one timer per outstanding hold.  Arm replaces any
// previous timer for the seat, Disarm cancels it.  A timer that fires
// after being superseded still reaches the fire callback, which is why
// the armed deadline travels with it: the callback discards stale
// instances against the registry.
type Scheduler struct {
    mu     sync.Mutex
    timers map[seatKey]*armedTimer
    fire   func(eventID uint64, seatID string, deadline time.Time)
    closed bool
}

type armedTimer struct {
    timer    *time.Timer
    deadline time.Time
}

// NewScheduler builds a scheduler delivering expirations to fire.
func NewScheduler(fire func(eventID uint64, seatID string, deadline time.Time)) *Scheduler {
    return &Scheduler{
        timers: make(map[seatKey]*armedTimer),
        fire:   fire,
    }
}

// Arm schedules an expiration for the seat after delay.  An existing
// timer for the same seat is replaced.
func (s *Scheduler) Arm(eventID uint64, seatID string, delay time.Duration, deadline time.Time) {
    if delay < 0 {
        delay = 0
    }
    key := seatKey{eventID, seatID}

    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed {
        return
    }
    if prev, ok := s.timers[key]; ok {
        prev.timer.Stop()
    }
    at := &armedTimer{deadline: deadline}
    at.timer = time.AfterFunc(delay, func() {
        s.fired(key, deadline)
    })
    s.timers[key] = at
}

// Disarm cancels the seat's timer if one is pending.
func (s *Scheduler) Disarm(eventID uint64, seatID string) {
    key := seatKey{eventID, seatID}
    s.mu.Lock()
    if at, ok := s.timers[key]; ok {
        at.timer.Stop()
        delete(s.timers, key)
    }
    s.mu.Unlock()
}

// Stop cancels every pending timer.  Used on shutdown.
func (s *Scheduler) Stop() {
    s.mu.Lock()
    s.closed = true
    for key, at := range s.timers {
        at.timer.Stop()
        delete(s.timers, key)
    }
    s.mu.Unlock()
}

func (s *Scheduler) fired(key seatKey, deadline time.Time) {
    s.mu.Lock()
    if at, ok := s.timers[key]; ok && at.deadline.Equal(deadline) {
        delete(s.timers, key)
    }
    s.mu.Unlock()
    s.fire(key.eventID, key.seatID, deadline)
}
