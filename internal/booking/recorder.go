// Package booking persists committed carts and announces them on the
// message broker.
package booking

import (
	"context"
	"time"

	"github.com/ticketpro/seatmap/internal/queue"
	"github.com/ticketpro/seatmap/internal/repository"
	queue_publisher "github.com/ticketpro/seatmap/internal/service"
)

// Recorder writes the durable record for a committed cart.  The
// in-memory engine has already booked the seats when RecordBooking is
// called; the recorder's job is the database row and the broker
// announcement.
type Recorder struct {
	events   *repository.EventRepo
	bookings *repository.BookingRepo
}

// NewRecorder wires a Recorder to its repositories.
func NewRecorder(events *repository.EventRepo, bookings *repository.BookingRepo) *Recorder {
	if events == nil || bookings == nil {
		panic("nil repository passed to booking.NewRecorder")
	}
	return &Recorder{events: events, bookings: bookings}
}

// RecordBooking persists the booking and returns its ID and total.
// Publishing to the broker happens asynchronously and never fails the
// booking: the queue publisher logs its own errors.
func (r *Recorder) RecordBooking(ctx context.Context, eventID uint64, seatIDs []string, holderID string) (uint64, uint32, error) {
	rec, err := r.bookings.Create(ctx, eventID, seatIDs, holderID)
	if err != nil {
		return 0, 0, err
	}

	title := ""
	if ev, err := r.events.GetByID(ctx, eventID); err == nil {
		title = ev.Title
	}

	ev := queue.SeatsBookedEvent{
		BookingID:        rec.ID,
		EventID:          eventID,
		EventTitle:       title,
		HolderID:         holderID,
		SeatLabels:       seatIDs,
		TotalAmountCents: rec.TotalAmountCents,
		BookedAt:         rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = queue_publisher.PublishSeatsBooked(pubCtx, ev)
	}()

	return rec.ID, rec.TotalAmountCents, nil
}
