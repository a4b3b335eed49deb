package session

import (
	"errors"
	"testing"
	"time"

	"github.com/ticketpro/seatmap/internal/clock"
	"github.com/ticketpro/seatmap/internal/fanout"
	"github.com/ticketpro/seatmap/internal/hold"
	"github.com/ticketpro/seatmap/internal/model"
	"github.com/ticketpro/seatmap/internal/registry"
)

type fixture struct {
	reg      *registry.Registry
	hub      *fanout.Hub
	boundary *Boundary
}

func newFixture(t *testing.T, opts ...hold.Option) *fixture {
	t.Helper()
	var h *fanout.Hub
	r := registry.New(func(d registry.Delta) { h.Publish(d) })
	h = fanout.New(r)
	t.Cleanup(h.Close)

	m := hold.NewManager(r, clock.NewSystem(), opts...)
	t.Cleanup(m.Close)

	seats := []model.Seat{
		{ID: "A1", Row: 1, Number: 1, PriceCents: 5000},
		{ID: "A2", Row: 1, Number: 2, PriceCents: 5000},
		{ID: "B1", Row: 2, Number: 1, PriceCents: 7500},
	}
	if err := r.LoadEvent(1, seats, nil); err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	return &fixture{reg: r, hub: h, boundary: NewBoundary(h, m)}
}

func recv(t *testing.T, s *Session) fanout.Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		if !ok {
			t.Fatalf("session channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return fanout.Message{}
}

func TestSession_Identity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.boundary.Open()
	b := f.boundary.Open()
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("sessions must get distinct non-empty identities: %q vs %q", a.ID(), b.ID())
	}
}

func TestSession_DisconnectReleasesHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	viewer := f.boundary.Open()
	watcher := f.boundary.Open()
	watcher.Subscribe(1)
	if msg := recv(t, watcher); msg.Type != fanout.MsgSnapshot {
		t.Fatalf("expected snapshot, got %+v", msg)
	}

	if _, err := viewer.Hold(1, "A1"); err != nil {
		t.Fatalf("Hold A1: %v", err)
	}
	if _, err := viewer.Hold(1, "A2"); err != nil {
		t.Fatalf("Hold A2: %v", err)
	}
	for i := 0; i < 2; i++ {
		if msg := recv(t, watcher); msg.Type != fanout.MsgSeatHeld {
			t.Fatalf("expected seat_held, got %+v", msg)
		}
	}

	// disconnect well before the 5 minute deadline
	viewer.Close()

	released := map[string]int{}
	for i := 0; i < 2; i++ {
		msg := recv(t, watcher)
		if msg.Type != fanout.MsgSeatReleased {
			t.Fatalf("expected seat_released, got %+v", msg)
		}
		released[msg.SeatID]++
	}
	if released["A1"] != 1 || released["A2"] != 1 {
		t.Fatalf("expected exactly one release per seat, got %v", released)
	}

	for _, id := range []string{"A1", "A2"} {
		st, err := f.reg.Get(1, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if st.Status != model.SeatAvailable {
			t.Fatalf("seat %s still %s after disconnect", id, st.Status)
		}
	}

	// no duplicate releases from a second Close
	viewer.Close()
	select {
	case msg, ok := <-watcher.Messages():
		if ok {
			t.Fatalf("unexpected message after duplicate Close: %+v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_CloseLeavesBookedSeats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	viewer := f.boundary.Open()

	if _, err := viewer.Hold(1, "B1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := viewer.Commit(1, []string{"B1"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	viewer.Close()

	st, err := f.reg.Get(1, "B1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != model.SeatBooked {
		t.Fatalf("booked seat lost on disconnect: %+v", st)
	}
}

func TestSession_NewIdentityCannotTouchOldHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	first := f.boundary.Open()
	if _, err := first.Hold(1, "A1"); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	// reconnect: a brand-new session with a new identity
	second := f.boundary.Open()
	if err := second.Release(1, "A1"); !errors.Is(err, hold.ErrNotHeldByCaller) {
		t.Fatalf("expected ErrNotHeldByCaller, got %v", err)
	}
	if _, err := second.Hold(1, "A1"); !errors.Is(err, hold.ErrAlreadyHeld) {
		t.Fatalf("expected ErrAlreadyHeld, got %v", err)
	}
}
