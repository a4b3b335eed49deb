package hold

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ticketpro/seatmap/internal/clock"
	"github.com/ticketpro/seatmap/internal/model"
	"github.com/ticketpro/seatmap/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(nil)
	seats := []model.Seat{
		{ID: "A1", Row: 1, Number: 1, PriceCents: 5000},
		{ID: "A2", Row: 1, Number: 2, PriceCents: 5000},
		{ID: "B1", Row: 2, Number: 1, PriceCents: 7500},
	}
	if err := r.LoadEvent(1, seats, nil); err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	return r
}

func seatStatus(t *testing.T, r *registry.Registry, seatID string) registry.SeatState {
	t.Helper()
	st, err := r.Get(1, seatID)
	if err != nil {
		t.Fatalf("Get %s: %v", seatID, err)
	}
	return st
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", d)
}

func TestManager_AcquireRelease(t *testing.T) {
	t.Parallel()

	t.Run("acquire sets deadline ttl from now", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewFixed(now))
		defer m.Close()

		deadline, err := m.Acquire(1, "A1", "v1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if !deadline.Equal(now.Add(DefaultHoldTTL)) {
			t.Fatalf("expected deadline %v, got %v", now.Add(DefaultHoldTTL), deadline)
		}
		st := seatStatus(t, r, "A1")
		if st.Status != model.SeatHeld || st.HolderID != "v1" {
			t.Fatalf("seat not held by v1: %+v", st)
		}
	})

	t.Run("second holder is rejected, first holder survives", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		if _, err := m.Acquire(1, "A1", "v1"); err != nil {
			t.Fatalf("Acquire v1: %v", err)
		}
		if _, err := m.Acquire(1, "A1", "v2"); !errors.Is(err, ErrAlreadyHeld) {
			t.Fatalf("expected ErrAlreadyHeld, got %v", err)
		}
		if st := seatStatus(t, r, "A1"); st.HolderID != "v1" {
			t.Fatalf("holder overwritten: %+v", st)
		}
	})

	t.Run("release requires matching holder", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		m.Acquire(1, "A1", "v1")
		if err := m.Release(1, "A1", "v2"); !errors.Is(err, ErrNotHeldByCaller) {
			t.Fatalf("expected ErrNotHeldByCaller, got %v", err)
		}
		if err := m.Release(1, "A1", "v1"); err != nil {
			t.Fatalf("Release by holder: %v", err)
		}
		if st := seatStatus(t, r, "A1"); st.Status != model.SeatAvailable {
			t.Fatalf("seat not released: %+v", st)
		}
	})

	t.Run("releasing an unheld seat is NotHeldByCaller", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		if err := m.Release(1, "A1", "v1"); !errors.Is(err, ErrNotHeldByCaller) {
			t.Fatalf("expected ErrNotHeldByCaller, got %v", err)
		}
	})

	t.Run("unknown seat propagates not found", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		if _, err := m.Acquire(1, "Z9", "v1"); !errors.Is(err, registry.ErrSeatNotFound) {
			t.Fatalf("expected ErrSeatNotFound, got %v", err)
		}
	})
}

func TestManager_MutualExclusion(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	m := NewManager(r, clock.NewSystem())
	defer m.Close()

	const callers = 24
	var wg sync.WaitGroup
	var ok, held int
	var mu sync.Mutex
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		holder := string(rune('a'+i%26)) + "-viewer"
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			<-start
			_, err := m.Acquire(1, "B1", h)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyHeld):
				held++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(holder)
	}
	close(start)
	wg.Wait()

	if ok != 1 || held != callers-1 {
		t.Fatalf("expected 1 winner and %d rejections, got %d/%d", callers-1, ok, held)
	}
}

func TestManager_Commit(t *testing.T) {
	t.Parallel()

	t.Run("books all held seats and they stay terminal", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		m.Acquire(1, "A1", "v1")
		m.Acquire(1, "A2", "v1")
		if err := m.Commit(1, []string{"A1", "A2"}, "v1"); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		for _, id := range []string{"A1", "A2"} {
			if st := seatStatus(t, r, id); st.Status != model.SeatBooked {
				t.Fatalf("seat %s not booked: %+v", id, st)
			}
		}
		// booked is terminal: no new hold, and the old holder cannot release
		if _, err := m.Acquire(1, "A1", "v2"); !errors.Is(err, ErrAlreadyBooked) {
			t.Fatalf("expected ErrAlreadyBooked, got %v", err)
		}
		if err := m.Release(1, "A1", "v1"); !errors.Is(err, ErrNotHeldByCaller) {
			t.Fatalf("expected ErrNotHeldByCaller on booked seat, got %v", err)
		}
	})

	t.Run("partial failure books nothing", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		m.Acquire(1, "A1", "v1")
		m.Acquire(1, "A2", "v2") // stolen from v1's point of view

		err := m.Commit(1, []string{"A1", "A2"}, "v1")
		var pce *PartialCommitError
		if !errors.As(err, &pce) {
			t.Fatalf("expected PartialCommitError, got %v", err)
		}
		if len(pce.Failed) != 1 || pce.Failed[0] != "A2" {
			t.Fatalf("expected failed=[A2], got %v", pce.Failed)
		}
		if st := seatStatus(t, r, "A1"); st.Status != model.SeatHeld || st.HolderID != "v1" {
			t.Fatalf("passing seat was touched: %+v", st)
		}
	})

	t.Run("empty commit is rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		if err := m.Commit(1, nil, "v1"); !errors.Is(err, ErrNoSeats) {
			t.Fatalf("expected ErrNoSeats, got %v", err)
		}
	})
}

func TestManager_ReleaseAll(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	m := NewManager(r, clock.NewSystem())
	defer m.Close()

	m.Acquire(1, "A1", "v1")
	m.Acquire(1, "A2", "v1")
	m.Acquire(1, "B1", "v1")
	// one of the holds gets committed before teardown
	if err := m.Commit(1, []string{"B1"}, "v1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if released := m.ReleaseAll("v1"); released != 2 {
		t.Fatalf("expected 2 seats released, got %d", released)
	}
	for _, id := range []string{"A1", "A2"} {
		if st := seatStatus(t, r, id); st.Status != model.SeatAvailable {
			t.Fatalf("seat %s not released: %+v", id, st)
		}
	}
	if st := seatStatus(t, r, "B1"); st.Status != model.SeatBooked {
		t.Fatalf("booked seat must survive teardown: %+v", st)
	}
	// idempotent: nothing left to release
	if released := m.ReleaseAll("v1"); released != 0 {
		t.Fatalf("expected 0 on second ReleaseAll, got %d", released)
	}
}

func TestManager_Expiry(t *testing.T) {
	t.Parallel()

	t.Run("elapsed hold frees the seat for another holder", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem(), WithHoldTTL(30*time.Millisecond))
		defer m.Close()

		if _, err := m.Acquire(1, "A1", "v1"); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		waitFor(t, time.Second, func() bool {
			st, err := r.Get(1, "A1")
			return err == nil && st.Status == model.SeatAvailable
		})
		if _, err := m.Acquire(1, "A1", "v2"); err != nil {
			t.Fatalf("seat not acquirable after expiry: %v", err)
		}
	})

	t.Run("manual release beats the timer", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem(), WithHoldTTL(40*time.Millisecond))
		defer m.Close()

		m.Acquire(1, "A1", "v1")
		if err := m.Release(1, "A1", "v1"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		// v2 takes the seat; the disarmed v1 timer must not fire under it
		deadline, err := m.Acquire(1, "A1", "v2")
		if err != nil {
			t.Fatalf("Acquire v2: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		st := seatStatus(t, r, "A1")
		if st.Status != model.SeatHeld || st.HolderID != "v2" || !st.HoldDeadline.Equal(deadline) {
			t.Fatalf("v2 hold disturbed: %+v", st)
		}
	})

	t.Run("stale expiry instance is discarded", func(t *testing.T) {
		r := newTestRegistry(t)
		m := NewManager(r, clock.NewSystem())
		defer m.Close()

		deadline, err := m.Acquire(1, "A1", "v1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		// a firing that refers to a different hold instance must be a no-op
		m.expire(1, "A1", deadline.Add(-time.Minute))
		if st := seatStatus(t, r, "A1"); st.Status != model.SeatHeld || st.HolderID != "v1" {
			t.Fatalf("stale expiry released the seat: %+v", st)
		}
		// the real instance still works
		m.expire(1, "A1", deadline)
		if st := seatStatus(t, r, "A1"); st.Status != model.SeatAvailable {
			t.Fatalf("matching expiry did not release: %+v", st)
		}
	})
}

func TestScheduler(t *testing.T) {
	t.Parallel()

	t.Run("fires with armed deadline", func(t *testing.T) {
		type firing struct {
			eventID  uint64
			seatID   string
			deadline time.Time
		}
		var mu sync.Mutex
		var got []firing
		s := NewScheduler(func(eventID uint64, seatID string, deadline time.Time) {
			mu.Lock()
			got = append(got, firing{eventID, seatID, deadline})
			mu.Unlock()
		})
		defer s.Stop()

		deadline := time.Now().Add(10 * time.Millisecond)
		s.Arm(1, "A1", 10*time.Millisecond, deadline)
		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		})
		mu.Lock()
		defer mu.Unlock()
		if got[0].eventID != 1 || got[0].seatID != "A1" || !got[0].deadline.Equal(deadline) {
			t.Fatalf("unexpected firing: %+v", got[0])
		}
	})

	t.Run("disarm cancels, rearm replaces", func(t *testing.T) {
		var mu sync.Mutex
		fired := 0
		s := NewScheduler(func(uint64, string, time.Time) {
			mu.Lock()
			fired++
			mu.Unlock()
		})
		defer s.Stop()

		s.Arm(1, "A1", 10*time.Millisecond, time.Now())
		s.Disarm(1, "A1")

		s.Arm(1, "A2", time.Hour, time.Now().Add(time.Hour))
		s.Arm(1, "A2", 10*time.Millisecond, time.Now()) // replaces the long timer

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return fired == 1
		})
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if fired != 1 {
			t.Fatalf("expected exactly 1 firing, got %d", fired)
		}
	})
}
