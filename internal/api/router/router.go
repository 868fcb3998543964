// Package router wires the HTTP surface: the Twilio webhook, health, and
// Prometheus metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/citabot/citabot/internal/http/middleware"
	"github.com/citabot/citabot/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	WebhookHandler http.Handler
	MetricsHandler http.Handler

	// Per-sender webhook rate limit; zero disables limiting.
	WebhookRatePerSec float64
	WebhookBurst      int

	// Origins allowed to hit the read-only endpoints; empty disables CORS.
	AllowedOrigins []string

	// HealthCheck reports readiness of the backing services; nil means
	// always healthy.
	HealthCheck func(r *http.Request) error
}

// New builds the chi router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.AllowedOrigins))
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(req); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.WebhookHandler != nil {
		r.Group(func(g chi.Router) {
			if cfg.WebhookRatePerSec > 0 {
				g.Use(httpmiddleware.RateLimit(
					cfg.WebhookRatePerSec, cfg.WebhookBurst,
					httpmiddleware.KeyByFormValue("From")))
			}
			g.Post("/webhooks/twilio/whatsapp", cfg.WebhookHandler.ServeHTTP)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
