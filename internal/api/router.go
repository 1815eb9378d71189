package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/pagestore/internal/metrics"
	"github.com/starford/pagestore/internal/pageservice"
)

// RequestTimeout bounds every API request.
const RequestTimeout = 30 * time.Second

// NewRouter creates the root chi router: health checks and the metrics scrape
// endpoint at the top level and the page API under /api.
func NewRouter(svc *pageservice.Service, m *metrics.Metrics, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		// Pages.
		r.Get("/pages", h.ListPages)
		r.Get("/pages/{slug}", h.GetPage)
		r.Put("/pages/{slug}", h.PutPage)
		r.Delete("/pages/{slug}", h.DeletePage)

		// Search.
		r.Get("/search", h.Search)
		r.Get("/suggest", h.Suggest)

		// Index administration.
		r.Post("/index/rebuild", h.StartRebuild)
		r.Get("/index/status", h.RebuildStatus)
		r.Get("/index/check", h.CheckIndex)
	})

	return r
}
