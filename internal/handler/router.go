package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/scanpulse/scanpulse/internal/middleware"
)

// RouterConfig carries the handlers and middleware settings of the router.
type RouterConfig struct {
	Logger        *slog.Logger
	Verifier      middleware.TokenVerifier
	RateLimit     middleware.RateLimitConfig
	Security      middleware.SecurityConfig
	CORS          middleware.CORSConfig
	MaxBodyBytes  int64
	VerbosePanics bool

	// HTTPMetrics and Metrics are optional.
	HTTPMetrics *middleware.HTTPMetrics
	Metrics     http.Handler

	Health    *HealthHandler
	Redirect  *RedirectHandler
	QrCodes   *QrCodeHandler
	Profiles  *ProfileHandler
	Analytics *AnalyticsHandler
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := New()
	r := chi.NewRouter()
	if cfg.RateLimit.Logger == nil {
		cfg.RateLimit.Logger = cfg.Logger
	}

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger, cfg.VerbosePanics))
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Handler)
	}
	r.Use(middleware.Security(cfg.Security))

	r.Get("/", h.Index)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CORS))
		r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))
		r.Use(middleware.OwnerAuth(cfg.Verifier, cfg.Logger))

		r.Route("/qrcodes", func(r chi.Router) {
			r.Get("/", cfg.QrCodes.List)
			r.Post("/", cfg.QrCodes.Create)
			r.Get("/{id}", cfg.QrCodes.Get)
			r.Patch("/{id}", cfg.QrCodes.Update)
			r.Delete("/{id}", cfg.QrCodes.Delete)
			r.Get("/{id}/image.png", cfg.QrCodes.Image)
		})

		r.Get("/profiles", cfg.Profiles.List)
		r.Post("/profiles", cfg.Profiles.Create)

		r.Get("/analytics", cfg.Analytics.Analytics)
		r.Get("/analytics/export.xlsx", cfg.Analytics.Export)
		r.Get("/dashboard", cfg.Analytics.Dashboard)
		r.Get("/rankings/profiles", cfg.Analytics.RankProfiles)
	})

	r.With(
		middleware.RateLimitIP(cfg.RateLimit),
		middleware.RequireValidCode("code"),
	).Get("/{code}", cfg.Redirect.Redirect)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
