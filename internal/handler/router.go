package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/persona-dialogue/internal/middleware"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
)

// RouterConfig holds the handlers and middleware settings of the API.
type RouterConfig struct {
	Conversations *ConversationHandler
	Stream        *StreamHandler
	Health        *HealthHandler
	Logger        *logger.Logger

	AllowedOrigins []string

	// JWTSecret enables bearer token authentication on /api when set.
	JWTSecret string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP routes of the API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/conversation", func(r chi.Router) {
		authEnabled := cfg.JWTSecret != ""
		if authEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/", cfg.Conversations.List)
		r.Post("/init", cfg.Conversations.Init)
		r.Post("/follow", cfg.Conversations.Follow)
		r.Post("/run", cfg.Stream.Run)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", cfg.Conversations.Get)
			r.Get("/export", cfg.Conversations.Export)

			if authEnabled {
				r.With(middleware.RequireScope(middleware.ScopeDelete)).Delete("/", cfg.Conversations.Delete)
			} else {
				r.Delete("/", cfg.Conversations.Delete)
			}
		})
	})

	return r
}
