package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"shuttle-tracker/internal/api/handlers"
	"shuttle-tracker/internal/auth"
	"shuttle-tracker/internal/feed"
)

type Deps struct {
	Tracker     handlers.Tracker
	Users       *auth.Directory
	DB          handlers.Pinger // optional
	Metrics     HTTPObserver    // optional
	CORSOrigins []string
	Now         func() time.Time
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
func NewRouter(d Deps) http.Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	bus := &handlers.BusHandler{Tracker: d.Tracker}
	health := &handlers.HealthHandler{DB: d.DB}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(d.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Auth-Token", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", health.Check)
	r.Get("/gtfs-rt/vehicle-positions", feed.Handler(d.Tracker, now))

	r.Route("/api", func(r chi.Router) {
		r.Use(d.Users.Middleware(handlers.Unauthorized))

		r.Get("/stops", bus.Stops)
		r.Get("/buses", bus.List)
		r.Route("/buses/{busID}", func(r chi.Router) {
			r.Get("/", bus.Get)
			r.Post("/location", bus.SubmitLocation)
			r.Delete("/location", bus.StopSharing)
			r.Get("/locations/active", bus.ActiveLocations)
			r.Get("/gps", bus.GPSStatus)
			r.Post("/manual/arrived", bus.Arrived)
			r.Post("/manual/departed", bus.Departed)
			r.Post("/manual/reset", bus.Reset)
			r.Get("/student-sharing", bus.GetSharing)
			r.Put("/student-sharing", bus.SetSharing)
			r.Post("/confirmations", bus.Confirm)
			r.Get("/confirmations", bus.Confirmations)
		})
	})

	return r
}
