package fanout

import (
	"testing"
	"time"

	"github.com/ticketpro/seatmap/internal/model"
	"github.com/ticketpro/seatmap/internal/registry"
)

// newHub wires a registry into a hub the way cmd/server does: the
// registry's listener feeds the hub queue.
func newHub(t *testing.T) (*registry.Registry, *Hub) {
	t.Helper()
	var h *Hub
	r := registry.New(func(d registry.Delta) { h.Publish(d) })
	h = New(r)
	t.Cleanup(h.Close)

	seats := []model.Seat{
		{ID: "A1", Row: 1, Number: 1, PriceCents: 5000},
		{ID: "A2", Row: 1, Number: 2, PriceCents: 5000},
	}
	if err := r.LoadEvent(1, seats, nil); err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	return r, h
}

func recv(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("subscriber channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func expectNone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if ok {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func hold(t *testing.T, r *registry.Registry, seatID, holder string) {
	t.Helper()
	_, err := r.Apply(registry.Transition{
		EventID: 1, SeatID: seatID,
		From: model.SeatAvailable, To: model.SeatHeld,
		HolderID: holder, Deadline: time.Now().Add(5 * time.Minute),
		Origin: holder,
	})
	if err != nil {
		t.Fatalf("hold %s: %v", seatID, err)
	}
}

func TestHub_Snapshot(t *testing.T) {
	t.Parallel()

	t.Run("subscriber gets full state first", func(t *testing.T) {
		r, h := newHub(t)
		hold(t, r, "A1", "v1")

		sub := NewSubscriber("v2", 16)
		h.Subscribe(sub, 1)

		msg := recv(t, sub)
		if msg.Type != MsgSnapshot || msg.EventID != 1 {
			t.Fatalf("expected snapshot for event 1, got %+v", msg)
		}
		if len(msg.Seats) != 2 {
			t.Fatalf("expected 2 seats, got %d", len(msg.Seats))
		}
		if msg.Seats[0].ID != "A1" || msg.Seats[0].Status != model.SeatHeld || msg.Seats[0].ByMe {
			t.Fatalf("foreign hold leaked identity: %+v", msg.Seats[0])
		}
	})

	t.Run("holder sees own hold as by_me in snapshot", func(t *testing.T) {
		r, h := newHub(t)
		hold(t, r, "A1", "v1")

		sub := NewSubscriber("v1", 16)
		h.Subscribe(sub, 1)

		msg := recv(t, sub)
		if !msg.Seats[0].ByMe {
			t.Fatalf("holder's own seat not marked by_me: %+v", msg.Seats[0])
		}
	})

	t.Run("unknown event yields an error message", func(t *testing.T) {
		_, h := newHub(t)

		sub := NewSubscriber("v1", 16)
		h.Subscribe(sub, 99)

		msg := recv(t, sub)
		if msg.Type != MsgError || msg.Code != "event_not_found" {
			t.Fatalf("expected event_not_found error, got %+v", msg)
		}
	})

	t.Run("late joiner sees all prior transitions", func(t *testing.T) {
		r, h := newHub(t)
		hold(t, r, "A1", "v1")
		if _, err := r.ApplyAll(1, []string{"A1"}, model.SeatHeld, model.SeatBooked, "v1", "v1"); err != nil {
			t.Fatalf("book A1: %v", err)
		}
		hold(t, r, "A2", "v2")

		sub := NewSubscriber("v3", 16)
		h.Subscribe(sub, 1)

		msg := recv(t, sub)
		if msg.Seats[0].Status != model.SeatBooked {
			t.Fatalf("expected A1 booked in snapshot, got %+v", msg.Seats[0])
		}
		if msg.Seats[1].Status != model.SeatHeld || msg.Seats[1].ByMe {
			t.Fatalf("expected A2 held (not by_me), got %+v", msg.Seats[1])
		}
	})
}

func TestHub_Broadcast(t *testing.T) {
	t.Parallel()

	subscribe := func(t *testing.T, h *Hub, id string) *Subscriber {
		t.Helper()
		sub := NewSubscriber(id, 16)
		h.Subscribe(sub, 1)
		if msg := recv(t, sub); msg.Type != MsgSnapshot {
			t.Fatalf("expected snapshot first, got %+v", msg)
		}
		return sub
	}

	t.Run("own hold is not echoed, others see held", func(t *testing.T) {
		r, h := newHub(t)
		origin := subscribe(t, h, "v1")
		other := subscribe(t, h, "v2")

		hold(t, r, "A1", "v1")

		msg := recv(t, other)
		if msg.Type != MsgSeatHeld || msg.SeatID != "A1" || msg.ByMe {
			t.Fatalf("expected anonymous seat_held, got %+v", msg)
		}
		expectNone(t, origin)
	})

	t.Run("expiry reaches everyone including the former holder", func(t *testing.T) {
		r, h := newHub(t)
		holder := subscribe(t, h, "v1")
		other := subscribe(t, h, "v2")

		hold(t, r, "A1", "v1")
		recv(t, other) // seat_held

		// expiry has no origin
		if _, err := r.Apply(registry.Transition{EventID: 1, SeatID: "A1", From: model.SeatHeld, To: model.SeatAvailable, PrevHolder: "v1"}); err != nil {
			t.Fatalf("expire: %v", err)
		}

		for _, sub := range []*Subscriber{holder, other} {
			msg := recv(t, sub)
			if msg.Type != MsgSeatReleased || msg.SeatID != "A1" {
				t.Fatalf("expected seat_released for %s, got %+v", sub.ID(), msg)
			}
		}
	})

	t.Run("booking reaches everyone including the origin", func(t *testing.T) {
		r, h := newHub(t)
		origin := subscribe(t, h, "v1")
		other := subscribe(t, h, "v2")

		hold(t, r, "A1", "v1")
		recv(t, other) // seat_held

		if _, err := r.ApplyAll(1, []string{"A1"}, model.SeatHeld, model.SeatBooked, "v1", "v1"); err != nil {
			t.Fatalf("book: %v", err)
		}
		for _, sub := range []*Subscriber{origin, other} {
			msg := recv(t, sub)
			if msg.Type != MsgSeatBooked || msg.SeatID != "A1" {
				t.Fatalf("expected seat_booked for %s, got %+v", sub.ID(), msg)
			}
		}
	})

	t.Run("per-seat order is preserved", func(t *testing.T) {
		r, h := newHub(t)
		sub := subscribe(t, h, "watcher")

		hold(t, r, "A1", "v1")
		if _, err := r.Apply(registry.Transition{EventID: 1, SeatID: "A1", From: model.SeatHeld, To: model.SeatAvailable, PrevHolder: "v1", Origin: "v1"}); err != nil {
			t.Fatalf("release: %v", err)
		}
		hold(t, r, "A1", "v2")

		want := []string{MsgSeatHeld, MsgSeatReleased, MsgSeatHeld}
		for i, typ := range want {
			msg := recv(t, sub)
			if msg.Type != typ || msg.SeatID != "A1" {
				t.Fatalf("message %d: expected %s, got %+v", i, typ, msg)
			}
		}
	})

	t.Run("unsubscribed session receives nothing", func(t *testing.T) {
		r, h := newHub(t)
		sub := subscribe(t, h, "v2")

		h.Unsubscribe(sub, 1)
		hold(t, r, "A1", "v1")
		expectNone(t, sub)
	})

	t.Run("slow subscriber is dropped", func(t *testing.T) {
		r, h := newHub(t)
		slow := NewSubscriber("slow", 1)
		h.Subscribe(slow, 1)
		// never drained: the snapshot already fills the 1-slot buffer

		hold(t, r, "A1", "v1")
		hold(t, r, "A2", "v2")

		// first queued message is the snapshot, then the channel closes
		msg := recv(t, slow)
		if msg.Type != MsgSnapshot {
			t.Fatalf("expected buffered snapshot, got %+v", msg)
		}
		select {
		case _, ok := <-slow.Messages():
			if ok {
				t.Fatalf("expected closed channel after overflow")
			}
		case <-time.After(time.Second):
			t.Fatalf("channel not closed after overflow")
		}
	})
}

func TestHub_DropEvent(t *testing.T) {
	t.Parallel()

	r, h := newHub(t)
	sub := NewSubscriber("v1", 16)
	h.Subscribe(sub, 1)
	recv(t, sub) // snapshot

	h.DropEvent(1)
	msg := recv(t, sub)
	if msg.Type != MsgEventRemoved || msg.EventID != 1 {
		t.Fatalf("expected event_removed, got %+v", msg)
	}

	// further transitions are not delivered
	hold(t, r, "A1", "v1")
	expectNone(t, sub)
}

func TestHub_Remove(t *testing.T) {
	t.Parallel()

	_, h := newHub(t)
	sub := NewSubscriber("v1", 16)
	h.Subscribe(sub, 1)
	recv(t, sub)

	h.Remove(sub)
	waitClosed := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
		case <-waitClosed:
			t.Fatalf("channel not closed after Remove")
		}
	}
}
