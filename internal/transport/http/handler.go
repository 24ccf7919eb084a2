// Package httptransport exposes the record store and lifecycle sweep over an
// admin HTTP API.
package httptransport

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certstore/internal/certificate/lifecycle"
	"certstore/internal/certificate/store"
	"certstore/internal/platform/metrics"
	"certstore/internal/x509cert"
)

// Sweeper runs one lifecycle sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (lifecycle.Report, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the admin API. It delegates to the store and sweeper without
// embedding lifecycle rules.
type Handler struct {
	store      *store.Store
	sweeper    Sweeper
	parser     x509cert.Parser
	logger     *slog.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	adminToken string
	clock      func() time.Time
	checks     map[string]HealthCheck
	maxLimit   int
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics instruments every route and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = m
		h.gatherer = gatherer
	}
}

// WithAdminToken sets the token the certificate and admin routes require.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// WithClock overrides the request time source.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

const defaultMaxLimit = 1000

// New creates a Handler. sweeper may be nil, in which case POST /admin/sweep
// answers 503.
func New(st *store.Store, sweeper Sweeper, opts ...Option) *Handler {
	h := &Handler{
		store:    st,
		sweeper:  sweeper,
		parser:   x509cert.StdParser{},
		logger:   slog.Default(),
		clock:    time.Now,
		checks:   make(map[string]HealthCheck),
		maxLimit: defaultMaxLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
