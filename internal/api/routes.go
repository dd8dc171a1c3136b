package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/metrics"
)

// SetupRoutes configures all API routes. m may be nil, in which case
// /metrics is not mounted.
func SetupRoutes(cfg config.ServerConfig, runs *RunsHandler, health *HealthChecker, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	if m != nil {
		r.Use(m.Middleware)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api/zns", func(r chi.Router) {
		r.Post("/recipients/validate", runs.HandleValidate)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.HandleList)
			r.Post("/", runs.HandleCreate)
			r.Get("/{id}", runs.HandleGet)
			r.Get("/{id}/results", runs.HandleResults)
			r.Post("/{id}/cancel", runs.HandleCancel)
		})
	})

	return r
}
