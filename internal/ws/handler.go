// Package ws exposes the seat-reservation engine over a WebSocket
// endpoint.  Each connection becomes one session: a read loop decodes
// viewer actions, a write pump serializes fan-out broadcasts and direct
// replies onto the socket.  Closing the connection, cleanly or not,
// tears the session down and releases its holds immediately.
package ws

import (
    "context"
    "errors"
    "log"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
    "github.com/labstack/echo/v4"

    "github.com/ticketpro/seatmap/internal/hold"
    "github.com/ticketpro/seatmap/internal/registry"
    "github.com/ticketpro/seatmap/internal/session"
)

const (
    writeWait      = 10 * time.Second
    pongWait       = 60 * time.Second
    pingPeriod     = (pongWait * 9) / 10
    maxMessageSize = 4096
    directBuffer   = 16
)

// BookingRecorder persists the durable record of a successful commit
// and emits the booked fact downstream.  The engine's in-memory state
// is already authoritative when this runs.
type BookingRecorder interface {
    RecordBooking(ctx context.Context, eventID uint64, seatIDs []string, holderID string) (bookingID uint64, totalCents uint32, err error)
}

// Handler serves the /ws endpoint.
type Handler struct {
    boundary *session.Boundary
    recorder BookingRecorder
    upgrader websocket.Upgrader
}

// NewHandler builds the WebSocket handler.  recorder may be nil when
// running without a catalog store (bookings then live only in memory).
func NewHandler(boundary *session.Boundary, recorder BookingRecorder) *Handler {
    if boundary == nil {
        panic("nil boundary passed to ws.NewHandler")
    }
    return &Handler{
        boundary: boundary,
        recorder: recorder,
        upgrader: websocket.Upgrader{
            ReadBufferSize:  1024,
            WriteBufferSize: 1024,
            // the seat map is served from a separate origin in dev
            CheckOrigin: func(*http.Request) bool { return true },
        },
    }
}

// Serve handles GET /ws.  It upgrades the connection, opens a session
// and runs the read loop until the viewer goes away.
func (h *Handler) Serve(c echo.Context) error {
    conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
    if err != nil {
        return err
    }
    sess := h.boundary.Open()
    direct := make(chan reply, directBuffer)
    go h.writePump(conn, sess, direct)
    h.readLoop(conn, sess, direct)
    return nil
}

// readLoop decodes viewer actions until the connection drops.  Its
// deferred teardown is what guarantees releaseAll on disconnect,
// voluntary or abrupt.
func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session, direct chan reply) {
    defer func() {
        sess.Close()
        close(direct)
        _ = conn.Close()
    }()

    conn.SetReadLimit(maxMessageSize)
    _ = conn.SetReadDeadline(time.Now().Add(pongWait))
    conn.SetPongHandler(func(string) error {
        return conn.SetReadDeadline(time.Now().Add(pongWait))
    })

    for {
        var msg clientMessage
        if err := conn.ReadJSON(&msg); err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
                log.Printf("ws: session %s read error: %v", sess.ID(), err)
            }
            return
        }
        h.dispatch(sess, direct, msg)
    }
}

func (h *Handler) dispatch(sess *session.Session, direct chan reply, msg clientMessage) {
    switch msg.Type {
    case actionSubscribe:
        sess.Subscribe(msg.EventID)
    case actionUnsubscribe:
        sess.Unsubscribe(msg.EventID)
    case actionHoldSeat:
        h.holdSeat(sess, direct, msg)
    case actionReleaseSeat:
        h.releaseSeat(sess, direct, msg)
    case actionCommitCart:
        h.commitCart(sess, direct, msg)
    default:
        sendReply(direct, reply{Type: replyError, Code: codeBadRequest, Message: "unknown action"})
    }
}

func (h *Handler) holdSeat(sess *session.Session, direct chan reply, msg clientMessage) {
    if msg.SeatID == "" {
        sendReply(direct, reply{Type: replyError, Code: codeBadRequest, Message: "seat_id is required"})
        return
    }
    deadline, err := sess.Hold(msg.EventID, msg.SeatID)
    if err != nil {
        h.replyHoldError(sess, direct, msg, err)
        return
    }
    sendReply(direct, reply{
        Type:      replyHoldOK,
        EventID:   msg.EventID,
        SeatID:    msg.SeatID,
        ExpiresAt: deadline.UTC().Format(time.RFC3339),
    })
}

func (h *Handler) replyHoldError(sess *session.Session, direct chan reply, msg clientMessage, err error) {
    switch {
    case errors.Is(err, hold.ErrAlreadyHeld):
        sendReply(direct, reply{Type: replyError, EventID: msg.EventID, SeatID: msg.SeatID, Code: codeAlreadyHeld, Message: "seat no longer available"})
    case errors.Is(err, hold.ErrAlreadyBooked):
        sendReply(direct, reply{Type: replyError, EventID: msg.EventID, SeatID: msg.SeatID, Code: codeAlreadyBooked, Message: "seat no longer available"})
    default:
        h.replyNotFoundOrInternal(sess, direct, msg, err)
    }
}

func (h *Handler) releaseSeat(sess *session.Session, direct chan reply, msg clientMessage) {
    if msg.SeatID == "" {
        sendReply(direct, reply{Type: replyError, Code: codeBadRequest, Message: "seat_id is required"})
        return
    }
    if err := sess.Release(msg.EventID, msg.SeatID); err != nil {
        if errors.Is(err, hold.ErrNotHeldByCaller) {
            // benign: the viewer's local cart was stale
            sendReply(direct, reply{Type: replyError, EventID: msg.EventID, SeatID: msg.SeatID, Code: codeNotHeld, Message: "seat is not held by you"})
            return
        }
        h.replyNotFoundOrInternal(sess, direct, msg, err)
        return
    }
    sendReply(direct, reply{Type: replyReleaseOK, EventID: msg.EventID, SeatID: msg.SeatID})
}

func (h *Handler) commitCart(sess *session.Session, direct chan reply, msg clientMessage) {
    // Canonicalize once: the engine tolerates repeated labels, but the
    // durable record and the reply must carry each seat exactly once.
    seatIDs := dedupeSeatIDs(msg.SeatIDs)
    err := sess.Commit(msg.EventID, seatIDs)
    if err != nil {
        var partial *hold.PartialCommitError
        switch {
        case errors.As(err, &partial):
            // nothing was booked; the client drops exactly these seats
            sendReply(direct, reply{Type: replyError, EventID: msg.EventID, SeatIDs: partial.Failed, Code: codeCommitConflict, Message: "some seats are no longer held by you"})
        case errors.Is(err, hold.ErrNoSeats):
            sendReply(direct, reply{Type: replyError, EventID: msg.EventID, Code: codeBadRequest, Message: "seat_ids is required"})
        default:
            h.replyNotFoundOrInternal(sess, direct, msg, err)
        }
        return
    }

    var bookingID uint64
    var total uint32
    var pending bool
    if h.recorder != nil {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        id, t, err := h.recorder.RecordBooking(ctx, msg.EventID, seatIDs, sess.ID())
        if err != nil {
            // the engine state is already booked; the durable record is
            // the collaborator's responsibility and failure here must
            // not unbook seats
            log.Printf("ws: record booking failed for event %d: %v", msg.EventID, err)
            pending = true
        } else {
            bookingID, total = id, t
        }
    }
    sendReply(direct, reply{
        Type:           replyCommitOK,
        EventID:        msg.EventID,
        SeatIDs:        seatIDs,
        BookingID:      bookingID,
        TotalCents:     total,
        BookingPending: pending,
    })
}

// dedupeSeatIDs drops repeated labels, keeping first occurrences in
// their original order.
func dedupeSeatIDs(ids []string) []string {
    seen := make(map[string]struct{}, len(ids))
    out := make([]string, 0, len(ids))
    for _, id := range ids {
        if _, ok := seen[id]; ok {
            continue
        }
        seen[id] = struct{}{}
        out = append(out, id)
    }
    return out
}

// replyNotFoundOrInternal maps registry lookup failures to a not_found
// reply followed by a fresh snapshot so the viewer reconverges, and
// everything else to an internal error.
func (h *Handler) replyNotFoundOrInternal(sess *session.Session, direct chan reply, msg clientMessage, err error) {
    if errors.Is(err, registry.ErrEventNotFound) || errors.Is(err, registry.ErrSeatNotFound) {
        sendReply(direct, reply{Type: replyError, EventID: msg.EventID, SeatID: msg.SeatID, Code: codeNotFound, Message: "unknown event or seat"})
        if errors.Is(err, registry.ErrSeatNotFound) {
            // event exists: refresh the viewer's map
            sess.Subscribe(msg.EventID)
        }
        return
    }
    log.Printf("ws: session %s action %s failed: %v", sess.ID(), msg.Type, err)
    sendReply(direct, reply{Type: replyError, EventID: msg.EventID, Code: codeInternal, Message: "internal error"})
}

// sendReply never blocks: if the direct buffer is full the viewer is
// not draining and the reply is dropped, matching the hub's policy for
// slow subscribers.
func sendReply(direct chan reply, r reply) {
    select {
    case direct <- r:
    default:
    }
}

// writePump owns all writes to the socket.  It multiplexes fan-out
// broadcasts and direct replies and keeps the connection alive with
// pings.  It exits once both channels are closed or a write fails.
func (h *Handler) writePump(conn *websocket.Conn, sess *session.Session, direct chan reply) {
    ticker := time.NewTicker(pingPeriod)
    defer func() {
        ticker.Stop()
        _ = conn.Close()
    }()

    broadcasts := sess.Messages()
    directs := direct
    write := func(v any) bool {
        _ = conn.SetWriteDeadline(time.Now().Add(writeWait))
        return conn.WriteJSON(v) == nil
    }
    for broadcasts != nil || directs != nil {
        select {
        case msg, ok := <-broadcasts:
            if !ok {
                broadcasts = nil
                continue
            }
            if !write(msg) {
                return
            }
        case r, ok := <-directs:
            if !ok {
                directs = nil
                continue
            }
            if !write(r) {
                return
            }
        case <-ticker.C:
            _ = conn.SetWriteDeadline(time.Now().Add(writeWait))
            if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        }
    }
    _ = conn.SetWriteDeadline(time.Now().Add(writeWait))
    _ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
