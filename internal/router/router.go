package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/ticketpro/seatmap/internal/handler"
	"github.com/ticketpro/seatmap/internal/middleware"
	"github.com/ticketpro/seatmap/internal/ws"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the admin login endpoint under /v1/auth.  The
// single admin operator exchanges credentials for a short-lived access
// token here; there is no registration or refresh flow.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
}

// RegisterPublic registers the unauthenticated catalog endpoints.  The
// optional middlewares (typically the Redis response cache) wrap only
// these routes: seat state changes constantly, so the cache TTL is kept
// short in config.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1", mw...)
	g.GET("/events", p.ListEvents)
	g.GET("/events/:id", p.GetEvent)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1.  All routes
// require a valid JWT with the ADMIN role; extra middlewares (rate
// limiting) are applied before auth so unauthenticated floods are
// throttled too.
func RegisterAdmin(e *echo.Echo, ad *handler.AdminHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	chain := append(append([]echo.MiddlewareFunc{}, mw...),
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	g := e.Group("/v1", chain...)

	g.POST("/events", ad.CreateEvent)
	g.DELETE("/events/:id", ad.DeleteEvent)
	g.GET("/bookings", ad.ListBookings)
}

// RegisterWS registers the seat-map WebSocket endpoint.  Viewers are
// anonymous; each connection gets a fresh session identity when it
// upgrades.
func RegisterWS(e *echo.Echo, h *ws.Handler) {
	e.GET("/ws", h.Serve)
}
