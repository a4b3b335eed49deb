package ws

// Viewer actions arriving over the socket.  The vocabulary mirrors the
// client: subscribe/unsubscribe control event broadcasts, hold_seat and
// release_seat manage single-seat holds, commit_cart books the held
// cart.
const (
    actionSubscribe   = "subscribe"
    actionUnsubscribe = "unsubscribe"
    actionHoldSeat    = "hold_seat"
    actionReleaseSeat = "release_seat"
    actionCommitCart  = "commit_cart"
)

// clientMessage is the envelope for every viewer action.  Unused fields
// stay at their zero value depending on the action type.
type clientMessage struct {
    Type    string   `json:"type"`
    EventID uint64   `json:"event_id"`
    SeatID  string   `json:"seat_id"`
    SeatIDs []string `json:"seat_ids"`
}

// Direct reply types sent only to the acting session.  Broadcasts
// (snapshot, seat_held, seat_released, seat_booked) come from the
// fan-out hub instead.
const (
    replyHoldOK    = "hold_ok"
    replyReleaseOK = "release_ok"
    replyCommitOK  = "commit_ok"
    replyError     = "error"
)

// Error codes carried in replyError messages.
const (
    codeBadRequest     = "bad_request"
    codeNotFound       = "not_found"
    codeAlreadyHeld    = "already_held"
    codeAlreadyBooked  = "already_booked"
    codeNotHeld        = "not_held"
    codeCommitConflict = "commit_conflict"
    codeInternal       = "internal_error"
)

// reply is a message addressed to the acting session only.
// BookingPending marks a commit whose seats are booked in the engine
// but whose durable record could not be written yet; the seats are the
// viewer's, the booking id arrives out of band once the store recovers.
type reply struct {
    Type           string   `json:"type"`
    EventID        uint64   `json:"event_id,omitempty"`
    SeatID         string   `json:"seat_id,omitempty"`
    SeatIDs        []string `json:"seat_ids,omitempty"`
    ExpiresAt      string   `json:"expires_at,omitempty"`
    BookingID      uint64   `json:"booking_id,omitempty"`
    TotalCents     uint32   `json:"total_cents,omitempty"`
    BookingPending bool     `json:"booking_pending,omitempty"`
    Code           string   `json:"code,omitempty"`
    Message        string   `json:"message,omitempty"`
}
