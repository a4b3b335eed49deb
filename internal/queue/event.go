// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatsBookedEvent is published when a cart of held seats is committed.
// It carries enough information for downstream consumers to log, notify,
// or trigger analytics without querying the primary database.
type SeatsBookedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	EventID          uint64   `json:"event_id"`
	EventTitle       string   `json:"event_title"`
	HolderID         string   `json:"holder_id"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	BookedAt         string   `json:"booked_at"`
}
