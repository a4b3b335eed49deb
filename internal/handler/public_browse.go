package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ticketpro/seatmap/internal/model"
	"github.com/ticketpro/seatmap/internal/registry"
	"github.com/ticketpro/seatmap/internal/repository"
)

// PublicHandler serves the anonymous catalog endpoints.  Event detail
// reads seat availability from the live registry rather than the
// database so held seats show up immediately; holder identities never
// leave the engine.
type PublicHandler struct {
	Events   *repository.EventRepo
	Registry *registry.Registry
}

// NewPublicHandler constructs a PublicHandler and panics if any dependency is nil.
func NewPublicHandler(events *repository.EventRepo, reg *registry.Registry) *PublicHandler {
	if events == nil || reg == nil {
		panic("nil dependency passed to NewPublicHandler")
	}
	return &PublicHandler{Events: events, Registry: reg}
}

// ListEvents handles GET /v1/events.
func (h *PublicHandler) ListEvents(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	events, err := h.Events.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list events"})
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// publicSeat is a seat as shown to anonymous browsers: position, price
// and status, with no trace of who holds it.
type publicSeat struct {
	model.Seat
	Status model.SeatStatus `json:"status"`
}

// GetEvent handles GET /v1/events/:id and returns the event with its
// current seat map.  When the event is missing from the live registry
// (for example right after a failed startup load) the database seat map
// is served instead, with holds invisible.
func (h *PublicHandler) GetEvent(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not load event"})
	}

	var seats []publicSeat
	if states, err := h.Registry.Snapshot(id); err == nil {
		seats = make([]publicSeat, 0, len(states))
		for _, st := range states {
			seats = append(seats, publicSeat{Seat: st.Seat, Status: st.Status})
		}
	} else {
		dbSeats, booked, err := h.Events.Seats(ctx, id)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not load seats"})
		}
		bookedSet := make(map[string]bool, len(booked))
		for _, sid := range booked {
			bookedSet[sid] = true
		}
		seats = make([]publicSeat, 0, len(dbSeats))
		for _, s := range dbSeats {
			status := model.SeatAvailable
			if bookedSet[s.ID] {
				status = model.SeatBooked
			}
			seats = append(seats, publicSeat{Seat: s, Status: status})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"event": ev, "seats": seats})
}
