package model

// SeatStatus is the lifecycle state of a seat within one event.
// A seat starts AVAILABLE, moves to HELD while a viewer has a
// time-bounded claim on it, and ends in BOOKED once the claim is
// committed.  BOOKED is terminal; this service never returns a
// booked seat to AVAILABLE.
type SeatStatus string

const (
    SeatAvailable SeatStatus = "available" // seat can be held by any viewer
    SeatHeld      SeatStatus = "held"      // seat is exclusively claimed, hold expires automatically
    SeatBooked    SeatStatus = "booked"    // seat is permanently sold
)

// Seat describes one seat of an event's map as supplied by the
// catalog.  The engine treats Category as opaque and never changes
// price or position; it only governs the seat's status.
//
// Fields:
//  ID         – seat identifier unique within the event (e.g. "A1").
//  Row        – one-based row number.
//  Number     – one-based seat number within the row.
//  Category   – pricing/visual category, opaque to the engine.
//  PriceCents – price in cents.
//  X, Y       – rendering position on the SVG seat map.
type Seat struct {
    ID         string `json:"id"`          // event_seats.seat_id
    Row        uint32 `json:"row"`         // event_seats.row_num
    Number     uint32 `json:"number"`      // event_seats.seat_number
    Category   string `json:"category"`    // event_seats.category
    PriceCents uint32 `json:"price_cents"` // event_seats.price_cents
    X          uint32 `json:"x"`           // event_seats.pos_x
    Y          uint32 `json:"y"`           // event_seats.pos_y
}
