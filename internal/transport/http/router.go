package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certstore/pkg/platform/middleware/admin"
	"certstore/pkg/platform/middleware/request"
	"certstore/pkg/platform/middleware/requesttime"
)

// NewRouter wires all endpoints. Certificate and admin routes require the admin
// token; /healthz and /metrics are open.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(request.Logger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Use(request.Principal)
		r.Use(requesttime.Middleware(h.clock))

		r.Route("/certificates", func(r chi.Router) {
			r.Get("/", h.handleSearch)
			r.Post("/", h.handleCreate)
			r.Get("/{serial}", h.handleGetCertificate)
			r.Post("/{serial}/revoke", h.handleRevoke)
			r.Post("/{serial}/unrevoke", h.handleUnrevoke)
		})
		r.Post("/admin/sweep", h.handleSweep)
	})
	return r
}
