package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// BookingRepo provides operations for bookings and their seats.  A
// booking groups the seats committed together by one viewer session;
// the seats booked under it live in booking_seats.  All timestamp
// fields are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingRecord mirrors the schema of the bookings table.
type BookingRecord struct {
	ID               uint64
	EventID          uint64
	HolderID         string
	TotalAmountCents uint32
	CreatedAt        time.Time
}

// Create persists a booking for the given seats in one transaction: it
// flips the event_seats rows to BOOKED, inserts the booking row and its
// booking_seats, and returns the populated record.  The in-memory
// transition has already reserved the seats, so a row that is not
// AVAILABLE here means the database disagrees with the engine; the
// transaction is rolled back and ErrConflict returned so the
// discrepancy surfaces in the logs rather than silently double-selling
// a seat.
func (r *BookingRepo) Create(ctx context.Context, eventID uint64, seatIDs []string, holderID string) (*BookingRecord, error) {
	if len(seatIDs) == 0 {
		return nil, ErrConflict
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock the seat rows and compute the total.  FOR UPDATE keeps a
	// concurrent Create from reading the same rows before we flip them.
	placeholders := make([]string, 0, len(seatIDs))
	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, eventID)
	for _, id := range seatIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	selQ := `SELECT seat_id, price_cents, status
	         FROM event_seats
	         WHERE event_id = ? AND seat_id IN (` + strings.Join(placeholders, ",") + `)
	         FOR UPDATE`
	rows, err := tx.QueryContext(ctx, selQ, args...)
	if err != nil {
		return nil, err
	}
	var total uint32
	prices := make(map[string]uint32, len(seatIDs))
	for rows.Next() {
		var seatID, status string
		var price uint32
		if err := rows.Scan(&seatID, &price, &status); err != nil {
			rows.Close()
			return nil, err
		}
		if status != "AVAILABLE" {
			rows.Close()
			return nil, ErrConflict
		}
		prices[seatID] = price
		total += price
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(prices) != len(seatIDs) {
		// one or more labels do not exist for this event
		return nil, sql.ErrNoRows
	}

	updQ := `UPDATE event_seats SET status = 'BOOKED'
	         WHERE event_id = ? AND seat_id IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := tx.ExecContext(ctx, updQ, args...); err != nil {
		return nil, err
	}

	rec := &BookingRecord{EventID: eventID, HolderID: holderID, TotalAmountCents: total}
	const insQ = `INSERT INTO bookings (event_id, holder_id, total_amount_cents) VALUES (?, ?, ?)`
	result, err := tx.ExecContext(ctx, insQ, eventID, holderID, total)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	rec.ID = uint64(id)

	seatQ := `INSERT INTO booking_seats (booking_id, event_id, seat_id, price_cents) VALUES `
	seatArgs := make([]interface{}, 0, len(seatIDs)*4)
	for i, seatID := range seatIDs {
		if i > 0 {
			seatQ += ","
		}
		seatQ += "(?, ?, ?, ?)"
		seatArgs = append(seatArgs, rec.ID, eventID, seatID, prices[seatID])
	}
	if _, err := tx.ExecContext(ctx, seatQ, seatArgs...); err != nil {
		return nil, err
	}

	const sel = `SELECT created_at FROM bookings WHERE id = ?`
	if err := tx.QueryRowContext(ctx, sel, rec.ID).Scan(&rec.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return rec, nil
}

// BookingDetail is a booking together with its event title and the
// seats booked under it, as returned to the admin listing.
type BookingDetail struct {
	ID               uint64    `json:"id"`
	EventID          uint64    `json:"event_id"`
	EventTitle       string    `json:"event_title"`
	HolderID         string    `json:"holder_id"`
	TotalAmountCents uint32    `json:"total_amount_cents"`
	SeatIDs          []string  `json:"seat_ids"`
	CreatedAt        time.Time `json:"created_at"`
}

// List returns all bookings with their seats, newest first.  When
// eventID is non-zero the list is restricted to that event.
func (r *BookingRepo) List(ctx context.Context, eventID uint64) ([]BookingDetail, error) {
	q := `SELECT b.id, b.event_id, e.title, b.holder_id, b.total_amount_cents, b.created_at
	      FROM bookings b
	      JOIN events e ON e.id = b.event_id`
	var args []interface{}
	if eventID != 0 {
		q += ` WHERE b.event_id = ?`
		args = append(args, eventID)
	}
	q += ` ORDER BY b.created_at DESC, b.id DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]BookingDetail, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var d BookingDetail
		if err := rows.Scan(&d.ID, &d.EventID, &d.EventTitle, &d.HolderID, &d.TotalAmountCents, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.SeatIDs = []string{}
		index[d.ID] = len(details)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return details, nil
	}

	// Populate seats for all bookings in a single query
	ids := make([]interface{}, 0, len(details))
	placeholders := make([]string, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ID)
		placeholders = append(placeholders, "?")
	}
	seatQ := `SELECT booking_id, seat_id
	          FROM booking_seats
	          WHERE booking_id IN (` + strings.Join(placeholders, ",") + `)
	          ORDER BY booking_id, seat_id`
	srows, err := r.db.QueryContext(ctx, seatQ, ids...)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var bid uint64
		var seatID string
		if err := srows.Scan(&bid, &seatID); err != nil {
			return nil, err
		}
		idx, ok := index[bid]
		if !ok {
			continue
		}
		details[idx].SeatIDs = append(details[idx].SeatIDs, seatID)
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
