package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

func SetupRouter(h *Handlers, logger observability.Logger, auth *Authenticator, rl Limiter, limits RateLimits, idemp IdempotencyGuard) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(auth))
		r.Use(RateLimitMiddleware(rl, limits))
		r.Use(IdempotencyMiddleware(idemp))

		r.Get("/v1/seats", h.ListSeats)

		r.Post("/v1/holds", h.CreateHold)
		r.Delete("/v1/holds", h.ReleaseHold)
		r.Get("/v1/holds/{id}", h.GetHold)

		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings", h.ListBookings)
		r.Get("/v1/bookings/number/{number}", h.GetBookingByNumber)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Patch("/v1/bookings/{id}/cancel", h.CancelBooking)
	})

	return r
}
