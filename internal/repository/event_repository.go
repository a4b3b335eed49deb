package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ticketpro/seatmap/internal/model"
)

// EventRepo encapsulates database operations for events and their seat
// maps.  An event row describes the performance itself; its seats live
// in event_seats, one row per seat label.  Only durable seat states are
// persisted: a seat is AVAILABLE or BOOKED in the database, holds exist
// purely in memory and die with the process.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo constructs an EventRepo given a DB handle.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// seatStatusBooked is the only non-default value of event_seats.status.
const seatStatusBooked = "BOOKED"

// Create inserts an event together with its full seat map in one
// transaction.  It populates the generated ID on the provided event.
// The seat slice must be non-empty; seat labels must be unique within
// the event (enforced by a unique key on event_id, seat_id).
func (r *EventRepo) Create(ctx context.Context, ev *model.Event, seats []model.Seat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO events (title, date, image_url) VALUES (?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, ev.Title, ev.Date, ev.ImageURL)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)

	// Bulk insert the seat map.  Each row needs eight values; status
	// defaults to AVAILABLE in the DB.
	query := `INSERT INTO event_seats (event_id, seat_id, row_num, seat_number, category, price_cents, pos_x, pos_y) VALUES `
	args := make([]interface{}, 0, len(seats)*8)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, ev.ID, s.ID, s.Row, s.Number, s.Category, s.PriceCents, s.X, s.Y)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	// Query back the row to populate created_at
	const sel = `SELECT created_at FROM events WHERE id = ?`
	if err := tx.QueryRowContext(ctx, sel, ev.ID).Scan(&ev.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// List returns all events ordered by date.  When no events exist an
// empty slice is returned.
func (r *EventRepo) List(ctx context.Context) ([]model.Event, error) {
	const q = `SELECT id, title, date, image_url, created_at FROM events ORDER BY date, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]model.Event, 0)
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.ImageURL, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetByID returns a single event.  When no event with the given ID
// exists, sql.ErrNoRows is returned.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT id, title, date, image_url, created_at FROM events WHERE id = ?`
	var ev model.Event
	err := r.db.QueryRowContext(ctx, q, id).Scan(&ev.ID, &ev.Title, &ev.Date, &ev.ImageURL, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Seats returns the seat map of an event in catalog order (row, then
// number) together with the labels of seats already booked.  The
// booked slice is a subset of the returned seat labels.
func (r *EventRepo) Seats(ctx context.Context, eventID uint64) ([]model.Seat, []string, error) {
	const q = `SELECT seat_id, row_num, seat_number, category, price_cents, pos_x, pos_y, status
	           FROM event_seats
	           WHERE event_id = ?
	           ORDER BY row_num, seat_number`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	var booked []string
	for rows.Next() {
		var s model.Seat
		var status string
		if err := rows.Scan(&s.ID, &s.Row, &s.Number, &s.Category, &s.PriceCents, &s.X, &s.Y, &status); err != nil {
			return nil, nil, err
		}
		seats = append(seats, s)
		if status == seatStatusBooked {
			booked = append(booked, s.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(seats) == 0 {
		// Distinguish an unknown event from one with an empty map;
		// events are always created with seats, so no rows means no
		// event.
		return nil, nil, sql.ErrNoRows
	}
	return seats, booked, nil
}

// Delete removes an event and its seat map.  It refuses to delete an
// event that already has bookings and returns ErrConflict in that
// case.  When the event does not exist, sql.ErrNoRows is returned.
func (r *EventRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var bookings int
	const countQ = `SELECT COUNT(*) FROM bookings WHERE event_id = ?`
	if err := tx.QueryRowContext(ctx, countQ, id).Scan(&bookings); err != nil {
		return err
	}
	if bookings > 0 {
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_seats WHERE event_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// EventSeatMap bundles an event with its seat map and booked labels.
// LoadAll returns one per event for seeding the in-memory registry at
// startup.
type EventSeatMap struct {
	Event  model.Event
	Seats  []model.Seat
	Booked []string
}

// LoadAll returns every event with its seats and booked labels.  It is
// called once at startup; events without seats are skipped.
func (r *EventRepo) LoadAll(ctx context.Context) ([]EventSeatMap, error) {
	events, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	index := make(map[uint64]int, len(events))
	maps := make([]EventSeatMap, 0, len(events))
	ids := make([]interface{}, 0, len(events))
	placeholders := make([]string, 0, len(events))
	for _, ev := range events {
		index[ev.ID] = len(maps)
		maps = append(maps, EventSeatMap{Event: ev})
		ids = append(ids, ev.ID)
		placeholders = append(placeholders, "?")
	}

	query := `SELECT event_id, seat_id, row_num, seat_number, category, price_cents, pos_x, pos_y, status
	          FROM event_seats
	          WHERE event_id IN (` + strings.Join(placeholders, ",") + `)
	          ORDER BY event_id, row_num, seat_number`
	rows, err := r.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eventID uint64
		var s model.Seat
		var status string
		if err := rows.Scan(&eventID, &s.ID, &s.Row, &s.Number, &s.Category, &s.PriceCents, &s.X, &s.Y, &status); err != nil {
			return nil, err
		}
		idx, ok := index[eventID]
		if !ok {
			continue
		}
		maps[idx].Seats = append(maps[idx].Seats, s)
		if status == seatStatusBooked {
			maps[idx].Booked = append(maps[idx].Booked, s.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := maps[:0]
	for _, m := range maps {
		if len(m.Seats) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}
