package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/ticketpro/seatmap/internal/booking"
	"github.com/ticketpro/seatmap/internal/clock"
	"github.com/ticketpro/seatmap/internal/config"
	"github.com/ticketpro/seatmap/internal/database"
	"github.com/ticketpro/seatmap/internal/fanout"
	"github.com/ticketpro/seatmap/internal/handler"
	"github.com/ticketpro/seatmap/internal/hold"
	"github.com/ticketpro/seatmap/internal/middleware"
	"github.com/ticketpro/seatmap/internal/queue"
	"github.com/ticketpro/seatmap/internal/registry"
	"github.com/ticketpro/seatmap/internal/repository"
	"github.com/ticketpro/seatmap/internal/router"
	"github.com/ticketpro/seatmap/internal/session"
	"github.com/ticketpro/seatmap/internal/ws"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env vars directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	eventRepo := repository.NewEventRepo(db)
	bookingRepo := repository.NewBookingRepo(db)

	// The registry publishes every accepted transition into the hub; the
	// hub is created right after so the closure resolves before any
	// transition can happen.
	var hub *fanout.Hub
	reg := registry.New(func(d registry.Delta) { hub.Publish(d) })
	hub = fanout.New(reg)
	defer hub.Close()

	holds := hold.NewManager(reg, clock.NewSystem(), hold.WithHoldTTL(cfg.HoldTTL))
	defer holds.Close()

	// Seed the live engine from the catalog.
	maps, err := eventRepo.LoadAll(context.Background())
	if err != nil {
		log.Fatalf("load events: %v", err)
	}
	for _, m := range maps {
		if err := reg.LoadEvent(m.Event.ID, m.Seats, m.Booked); err != nil {
			log.Fatalf("load event %d: %v", m.Event.ID, err)
		}
	}
	log.Printf("loaded %d events into the seat registry", len(maps))

	recorder := booking.NewRecorder(eventRepo, bookingRepo)
	wsHandler := ws.NewHandler(session.NewBoundary(hub, holds), recorder)

	// Background consumer mirrors committed bookings into logs/booking.log.
	go func() {
		if err := queue.StartBookingConsumer(); err != nil {
			log.Printf("booking consumer stopped: %v", err)
		}
	}()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; response cache and rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg))
	router.RegisterPublic(e, handler.NewPublicHandler(eventRepo, reg),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterAdmin(e, handler.NewAdminHandler(eventRepo, bookingRepo, reg, hub), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterWS(e, wsHandler)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
