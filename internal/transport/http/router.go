package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensesrv/internal/errors"
	"licensesrv/internal/middleware"
	"licensesrv/internal/services"
)

// RouterConfig holds everything the router mounts. Nil optional fields
// switch the matching feature off.
type RouterConfig struct {
	Logger     *slog.Logger
	ErrHandler *apierrors.ErrorHandler
	License    services.LicenseService
	Health     *services.HealthService

	AdminAPIKeys   []string
	RequestTimeout time.Duration
	TrustProxy     bool

	// optional
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSConfig
	OTel        *middleware.OTelMiddleware
	Metrics     http.Handler
}

// NewRouter builds the server's chi router
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	if cfg.OTel != nil {
		r.Use(cfg.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.ErrHandler))
	r.Use(middleware.SecurityHeaders)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}

	r.NotFound(cfg.ErrHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrHandler.MethodNotAllowed)

	health := NewHealthHandler(cfg.Health, cfg.Logger)
	r.Get("/healthz", health.HealthCheck)
	r.Get("/livez", health.LivenessCheck)
	r.Get("/readyz", health.ReadinessCheck)
	r.Get("/version", health.Version)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}

		r.Mount("/license", NewLicenseHandler(cfg.License, cfg.Logger).Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(cfg.Logger, cfg.AdminAPIKeys))
			r.Mount("/licenses", NewAdminHandler(cfg.License, cfg.ErrHandler, cfg.Logger).Routes())
		})
	})

	return r
}
