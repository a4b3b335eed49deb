package handler // admin event CRUD handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ticketpro/seatmap/internal/fanout"
	"github.com/ticketpro/seatmap/internal/model"
	"github.com/ticketpro/seatmap/internal/registry"
	"github.com/ticketpro/seatmap/internal/repository"
)

// AdminHandler bundles the dependencies for the admin surface.  Event
// mutations touch both the database and the live engine: the registry
// gains or loses the seat map, the hub informs connected viewers.
type AdminHandler struct {
	Events   *repository.EventRepo
	Bookings *repository.BookingRepo
	Registry *registry.Registry
	Hub      *fanout.Hub
}

// NewAdminHandler constructs an AdminHandler and panics if any dependency is nil.
func NewAdminHandler(events *repository.EventRepo, bookings *repository.BookingRepo, reg *registry.Registry, hub *fanout.Hub) *AdminHandler {
	if events == nil || bookings == nil || reg == nil || hub == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Events: events, Bookings: bookings, Registry: reg, Hub: hub}
}

// CreateEvent handles POST /v1/events.  The seat map is a rectangular
// grid; rows, cols and price default to the standard layout when
// omitted.  The event becomes visible to WebSocket viewers as soon as
// the database insert commits.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var body struct {
		Title      string  `json:"title"`
		Date       string  `json:"date"`
		ImageURL   string  `json:"image_url"`
		Rows       *int    `json:"rows"`
		Cols       *int    `json:"cols"`
		PriceCents *uint32 `json:"price_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Title = strings.TrimSpace(body.Title)
	body.Date = strings.TrimSpace(body.Date)
	if body.Title == "" || body.Date == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and date are required"})
	}

	rows, cols := defaultGridRows, defaultGridCols
	if body.Rows != nil {
		rows = *body.Rows
	}
	if body.Cols != nil {
		cols = *body.Cols
	}
	if rows < 1 || cols < 1 || rows*cols > 10000 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rows and cols must be between 1 and a 10000-seat grid"})
	}
	price := uint32(defaultPriceCents)
	if body.PriceCents != nil {
		price = *body.PriceCents
	}

	ev := &model.Event{Title: body.Title, Date: body.Date, ImageURL: body.ImageURL}
	seats := buildSeatGrid(rows, cols, price)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	if err := h.Events.Create(ctx, ev, seats); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create event"})
	}

	if err := h.Registry.LoadEvent(ev.ID, seats, nil); err != nil {
		// the row exists; viewers will see the event after a restart
		c.Logger().Errorf("load event %d into registry: %v", ev.ID, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"event": ev, "seat_count": len(seats)})
}

// DeleteEvent handles DELETE /v1/events/:id.  Events with bookings
// cannot be deleted.  On success the event is dropped from the live
// engine, which disconnects its viewers from the seat map.
func (h *AdminHandler) DeleteEvent(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Events.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "event has bookings"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete event"})
		}
	}

	h.Hub.DropEvent(id)
	h.Registry.DropEvent(id)
	return c.NoContent(http.StatusNoContent)
}

// ListBookings handles GET /v1/bookings.  An optional event_id query
// parameter restricts the list to one event.
func (h *AdminHandler) ListBookings(c echo.Context) error {
	var eventID uint64
	if raw := c.QueryParam("event_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event_id"})
		}
		eventID = id
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	bookings, err := h.Bookings.List(ctx, eventID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list bookings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookings})
}
