package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	httpmiddleware "github.com/wolfman30/realestate-lead-ai/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	InstagramWebhook    *instagram.WebhookHandler
	LeadsHandler        *leads.Handler
	ListingsHandler     *listings.Handler
	ConversationHandler *conversation.Handler
	EntitlementHandler  *entitlement.Handler
	CompanyHandler      *company.Handler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	HealthChecks        map[string]HealthCheck

	// Per-IP limit on admin requests; zero disables it.
	AdminRateLimit float64
	AdminRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.InstagramWebhook != nil {
			public.Get("/webhooks/instagram", cfg.InstagramWebhook.HandleVerification)
			public.Post("/webhooks/instagram", cfg.InstagramWebhook.HandleInbound)
		}
	})

	if cfg.AdminAuthSecret == "" {
		return r
	}
	r.Route("/admin", func(admin chi.Router) {
		if cfg.AdminRateLimit > 0 {
			admin.Use(httpmiddleware.RateLimit(cfg.AdminRateLimit, cfg.AdminRateBurst))
		}
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

		if cfg.LeadsHandler != nil {
			cfg.LeadsHandler.Routes(admin)
		}
		if cfg.ListingsHandler != nil {
			cfg.ListingsHandler.Routes(admin)
		}
		if cfg.ConversationHandler != nil {
			cfg.ConversationHandler.Routes(admin)
		}

		admin.Route("/companies/{companyID}", func(companyRoutes chi.Router) {
			companyRoutes.Use(httpmiddleware.RequireCompanyScope("companyID"))
			if cfg.LeadsHandler != nil {
				cfg.LeadsHandler.CompanyRoutes(companyRoutes)
			}
			if cfg.ListingsHandler != nil {
				cfg.ListingsHandler.CompanyRoutes(companyRoutes)
			}
			if cfg.EntitlementHandler != nil {
				cfg.EntitlementHandler.Routes(companyRoutes)
			}
			if cfg.CompanyHandler != nil {
				cfg.CompanyHandler.Routes(companyRoutes)
			}
		})
	})

	return r
}

// healthHandler runs every check and reports 503 when any of them fails.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		resp := map[string]any{"status": "ok"}
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				resp["status"] = "degraded"
				continue
			}
			results[name] = "ok"
		}
		if len(results) > 0 {
			resp["checks"] = results
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
