package router

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/physio-voice-intake/internal/http/middleware"
	"github.com/wolfman30/physio-voice-intake/internal/operator"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Operator           *operator.Handler
	OperatorJWTSecret  string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// StartLimiter throttles session starts per client. Optional.
	StartLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Operator != nil {
		r.Route("/api", func(api chi.Router) {
			if cfg.OperatorJWTSecret != "" {
				api.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret))
			}
			if cfg.StartLimiter != nil {
				api.Use(limitSessionStarts(cfg.StartLimiter))
			}
			cfg.Operator.Routes(api)
		})
	}

	return r
}

// limitSessionStarts applies the limiter to POST /api/sessions only. Event
// submission from a live call must never be throttled.
func limitSessionStarts(limiter *httpmiddleware.RateLimiter) func(http.Handler) http.Handler {
	limit := httpmiddleware.RateLimit(limiter)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.TrimSuffix(r.URL.Path, "/") == "/api/sessions" {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
