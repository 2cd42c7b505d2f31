package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/broadcast-engine/internal/pkg/logger"
)

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	Auth           *Authenticator // nil disables auth (tests, local dev)
	AllowedOrigins []string
	Health         *HealthChecker
	Log            *logger.Logger
}

// NewRouter configures all routes.
//
//	GET  /health
//	GET  /health/live
//	GET  /health/ready
//	GET  /metrics
//	POST /api/campaigns/{id}/enqueue
//	POST /api/campaigns/{id}/trigger
//	GET  /api/campaigns/{id}/stats
//	POST /api/tenants/{tenantID}/events
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/health/live", cfg.Health.HandleLiveness)
		r.Get("/health/ready", cfg.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/enqueue", h.Enqueue)
			r.Post("/trigger", h.Trigger)
			r.Get("/stats", h.Stats)
		})
		r.Post("/tenants/{tenantID}/events", h.Event)
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
