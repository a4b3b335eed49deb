// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers such
// as handlers to distinguish between different failure scenarios. For
// example, ErrConflict signals that an operation cannot proceed because
// of conflicting state (e.g. deleting an event that already has
// bookings, or booking a seat row that is no longer AVAILABLE).
package repository

import "errors"

// ErrConflict is returned when an insert, update or delete cannot be
// performed because of conflicting state. Handlers should translate
// this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
