package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samims/pricewatch/internal/handler"
	customMiddleware "github.com/samims/pricewatch/internal/middleware"
)

const requestTimeout = 60 * time.Second

func NewRouter(th *handler.TrackingHandler, mh *handler.MonitorHandler, healthHandler *handler.HealthHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(customMiddleware.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/subscribers/{id}", func(r chi.Router) {
			r.Put("/", th.RegisterSubscriber)
			r.Get("/trackings", th.ListTrackings)
			r.Post("/trackings", th.AddTracking)
			r.Delete("/trackings/{productID}", th.RemoveTracking)
		})
		r.Get("/products/{id}/history", th.PriceHistory)
		r.Get("/monitor/status", mh.Status)
	})

	// A manual cycle may outlive the request timeout.
	r.Post("/monitor/run", mh.Run)

	// Health & Readiness Routes
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/readyz", healthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
