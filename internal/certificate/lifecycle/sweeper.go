// Package lifecycle moves certificate records through their automatic status
// transitions and forwards replicated revocations to issuing point sinks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
	"certstore/internal/certificate/store"
	"certstore/internal/crl"
	"certstore/pkg/platform/sentinel"
	"certstore/pkg/requestcontext"
)

// RangeChecker reconciles serial ranges of a companion record store.
type RangeChecker interface {
	CheckRanges(ctx context.Context) (store.RangeReport, error)
}

// Config controls the sweep schedule and how much work one run may do.
type Config struct {
	// Interval between runs. Zero disables the timer; RunOnce still works.
	Interval time.Duration
	// PageSize is the window page size used to scan candidates.
	PageSize int
	// MaxRecords caps the candidates considered per transition step.
	MaxRecords int
}

const (
	defaultSweepPageSize   = 100
	defaultSweepMaxRecords = 10000
)

// Report summarizes one sweep run.
type Report struct {
	RunID          string              `json:"run_id"`
	StartedAt      time.Time           `json:"started_at"`
	Activated      int                 `json:"activated"`
	Expired        int                 `json:"expired"`
	RevokedExpired int                 `json:"revoked_expired"`
	Failed         int                 `json:"failed"`
	Ranges         []store.RangeReport `json:"ranges,omitempty"`
}

// Sweeper runs the lifecycle sweep against one store.
type Sweeper struct {
	store     *store.Store
	sinks     *crl.Sinks
	cfg       Config
	companion RangeChecker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
	companion  RangeChecker
	retryDelay time.Duration
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source the sweep compares validity against.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCompanion registers a companion store whose ranges are checked after every
// sweep.
func WithCompanion(rc RangeChecker) Option {
	return func(o *options) {
		o.companion = rc
	}
}

// WithRetryDelay sets how long the listener waits after a stream error.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:     slog.Default(),
		clock:      time.Now,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSweeper creates a sweeper. sinks may be nil when no issuing point is
// configured.
func NewSweeper(st *store.Store, sinks *crl.Sinks, cfg Config, opts ...Option) (*Sweeper, error) {
	if st == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("sweep interval must not be negative: %w", sentinel.ErrInvalidState)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultSweepPageSize
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultSweepMaxRecords
	}
	if sinks == nil {
		sinks = crl.NewSinks(nil)
	}
	o := buildOptions(opts)
	return &Sweeper{
		store:     st,
		sinks:     sinks,
		cfg:       cfg,
		companion: o.companion,
		logger:    o.logger,
		metrics:   o.metrics,
		clock:     o.clock,
	}, nil
}

// step is one automatic transition and the query selecting its candidates.
type step struct {
	from, to models.Status
	filter   string
	sortKey  string
}

func steps(now time.Time) []step {
	at := now.UTC().Format(time.RFC3339)
	return []step{
		{
			from:    models.StatusInvalid,
			to:      models.StatusValid,
			filter:  fmt.Sprintf("(&(%s=%s)(%s<=%s))", models.FieldStatus, models.StatusInvalid, models.FieldNotBefore, at),
			sortKey: models.FieldNotBefore,
		},
		{
			from:    models.StatusValid,
			to:      models.StatusExpired,
			filter:  fmt.Sprintf("(&(%s=%s)(%s=*)(!(%s>=%s)))", models.FieldStatus, models.StatusValid, models.FieldNotAfter, models.FieldNotAfter, at),
			sortKey: models.FieldNotAfter,
		},
		{
			from:    models.StatusRevoked,
			to:      models.StatusRevokedExpired,
			filter:  fmt.Sprintf("(&(%s=%s)(%s=*)(!(%s>=%s)))", models.FieldStatus, models.StatusRevoked, models.FieldNotAfter, models.FieldNotAfter, at),
			sortKey: models.FieldNotAfter,
		},
	}
}

// RunOnce performs one full sweep while holding the store mutex. Failures on
// single records are logged, counted and skipped; an error is returned only when
// the sweep could not run at all.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	now := s.clock().UTC().Truncate(time.Second)
	report := Report{RunID: uuid.NewString(), StartedAt: now}

	ctx = requestcontext.WithTime(ctx, now)
	ctx = requestcontext.WithPrincipal(ctx, requestcontext.SystemPrincipal)
	ctx = requestcontext.WithRequestID(ctx, report.RunID)

	err := s.store.Exclusive(ctx, func(ctx context.Context, l *store.Locked) error {
		for _, st := range steps(now) {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := s.transition(ctx, l, st, &report)
			switch st.to {
			case models.StatusValid:
				report.Activated = n
			case models.StatusExpired:
				report.Expired = n
			case models.StatusRevokedExpired:
				report.RevokedExpired = n
			}
		}
		s.checkRanges(ctx, &report)
		return nil
	})
	if s.metrics != nil {
		s.metrics.ObserveSweep(start)
	}
	if err != nil {
		return report, fmt.Errorf("sweep %s: %w", report.RunID, err)
	}

	s.logger.InfoContext(ctx, "lifecycle sweep finished",
		"run_id", report.RunID,
		"activated", report.Activated,
		"expired", report.Expired,
		"revoked_expired", report.RevokedExpired,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	return report, nil
}

// transition applies one step and returns how many records moved. Candidates are
// collected before any update so changing statuses cannot shift the window.
func (s *Sweeper) transition(ctx context.Context, l *store.Locked, st step, report *Report) int {
	candidates, err := s.candidates(ctx, st)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to scan sweep candidates",
			"from", st.from,
			"to", st.to,
			"error", err,
		)
		report.Failed++
		if s.metrics != nil {
			s.metrics.IncrementSweepFailure()
		}
		return 0
	}

	moved := 0
	for _, serial := range candidates {
		if err := l.UpdateStatus(ctx, serial, st.to); err != nil {
			s.logger.ErrorContext(ctx, "failed to transition certificate",
				"serial", serial.String(),
				"from", st.from,
				"to", st.to,
				"error", err,
			)
			report.Failed++
			if s.metrics != nil {
				s.metrics.IncrementSweepFailure()
			}
			continue
		}
		moved++
		if s.metrics != nil {
			s.metrics.IncrementTransition(string(st.from), string(st.to))
		}
		if st.to == models.StatusRevokedExpired {
			s.sinks.AddExpiredCert(ctx, serial)
		}
	}
	return moved
}

func (s *Sweeper) candidates(ctx context.Context, st step) ([]*big.Int, error) {
	w, err := s.store.Search(ctx, store.SearchRequest{
		Filter:   st.filter,
		SortKey:  st.sortKey,
		PageSize: s.cfg.PageSize,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "failed to close sweep window", "error", cerr)
		}
	}()

	var serials []*big.Int
	for i := 0; i < s.cfg.MaxRecords; i++ {
		rec, ok, err := w.ElementAt(ctx, i)
		if err != nil {
			return serials, err
		}
		if !ok {
			break
		}
		if rec.Status != st.from || !st.from.CanTransitionTo(st.to) {
			continue
		}
		serials = append(serials, rec.SerialNumber)
	}
	return serials, nil
}

func (s *Sweeper) checkRanges(ctx context.Context, report *Report) {
	checkers := []RangeChecker{s.store}
	if s.companion != nil {
		checkers = append(checkers, s.companion)
	}
	for _, rc := range checkers {
		r, err := rc.CheckRanges(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "range check failed", "error", err)
			report.Failed++
			continue
		}
		report.Ranges = append(report.Ranges, r)
	}
}

// Start runs the sweep every Interval until ctx is done or Stop is called. With
// a zero interval it does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cfg.Interval == 0 {
		s.logger.InfoContext(ctx, "lifecycle sweep disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("sweeper already running: %w", sentinel.ErrInvalidState)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.InfoContext(ctx, "lifecycle sweep started", "interval", s.cfg.Interval)
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "lifecycle sweep failed", "error", err)
			}
		}
	}
}

// Stop cancels the timer and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
