// Package crl defines the issuing point sinks the record store reports revocation
// facts to. Building CRLs is up to the sinks; the store only tells them which
// certificates were revoked, unrevoked or have expired while revoked.
package crl

import (
	"context"
	"log/slog"
	"math/big"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
)

// Sink receives revocation facts for one issuing point.
type Sink interface {
	AddRevokedCert(ctx context.Context, serial *big.Int, info *models.RevocationInfo) error
	AddUnrevokedCert(ctx context.Context, serial *big.Int) error
	AddExpiredCert(ctx context.Context, serial *big.Int) error
}

// Event names used in logs and metrics.
const (
	EventRevoked   = "revoked"
	EventUnrevoked = "unrevoked"
	EventExpired   = "expired"
)

// Sinks fans a notification out to every sink in registration order. A failing
// sink is logged and does not stop delivery to the rest.
type Sinks struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Sinks)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sinks) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sinks) {
		s.metrics = m
	}
}

// NewSinks returns a fan-out over sinks.
func NewSinks(sinks []Sink, opts ...Option) *Sinks {
	s := &Sinks{sinks: sinks, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of registered sinks.
func (s *Sinks) Len() int { return len(s.sinks) }

// AddRevokedCert notifies every sink of a revocation and returns how many failed.
func (s *Sinks) AddRevokedCert(ctx context.Context, serial *big.Int, info *models.RevocationInfo) int {
	return s.each(ctx, EventRevoked, serial, func(sink Sink) error {
		return sink.AddRevokedCert(ctx, serial, info)
	})
}

// AddUnrevokedCert notifies every sink of an unrevocation and returns how many
// failed.
func (s *Sinks) AddUnrevokedCert(ctx context.Context, serial *big.Int) int {
	return s.each(ctx, EventUnrevoked, serial, func(sink Sink) error {
		return sink.AddUnrevokedCert(ctx, serial)
	})
}

// AddExpiredCert notifies every sink that a revoked certificate expired and
// returns how many failed.
func (s *Sinks) AddExpiredCert(ctx context.Context, serial *big.Int) int {
	return s.each(ctx, EventExpired, serial, func(sink Sink) error {
		return sink.AddExpiredCert(ctx, serial)
	})
}

func (s *Sinks) each(ctx context.Context, event string, serial *big.Int, call func(Sink) error) int {
	failed := 0
	for i, sink := range s.sinks {
		outcome := "ok"
		if err := call(sink); err != nil {
			failed++
			outcome = "error"
			s.logger.ErrorContext(ctx, "issuing point sink notification failed",
				"event", event,
				"serial", serial.String(),
				"sink", i,
				"error", err,
			)
		}
		if s.metrics != nil {
			s.metrics.IncrementSinkNotification(event, outcome)
		}
	}
	return failed
}
