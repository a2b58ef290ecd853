package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelkaz/markethold/internal/observability"
	"github.com/avelkaz/markethold/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Use(RateLimitMiddleware(rl))

		r.Get("/v1/products", h.ListProducts)
		r.Get("/v1/products/{id}", h.GetProduct)
		r.Post("/v1/products", h.CreateProduct)
		r.Patch("/v1/products/{id}", h.UpdateProduct)
		r.Delete("/v1/products/{id}", h.DeleteProduct)

		r.Post("/v1/reservations/quote", h.QuoteReservations)
		r.Post("/v1/reservations/{id}/cancel", h.CancelReservation)
		r.Get("/v1/reservations/my", h.MyReservations)
		r.Get("/v1/wallet", h.WalletBalance)

		// fund-moving POSTs replay on retried Idempotency-Key
		r.Group(func(r chi.Router) {
			r.Use(RequireIdempotencyKey)
			r.Post("/v1/reservations", h.CreateReservation)
			r.Post("/v1/reservations/bulk", h.BulkReserve)
			r.Post("/v1/wallet/deposit", h.Deposit)
		})
	})

	return r
}
