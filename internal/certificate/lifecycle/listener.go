package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
	"certstore/internal/certificate/store"
	"certstore/internal/crl"
	"certstore/internal/directory"
	"certstore/pkg/platform/sentinel"
)

// watchFilter selects every record that carries a status.
var watchFilter = fmt.Sprintf("(%s=*)", models.FieldStatus)

// Listener forwards revocations and unrevocations observed on the directory,
// typically written through another replica, to the local issuing point sinks.
type Listener struct {
	store      *store.Store
	sinks      *crl.Sinks
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// closeErr is written by the forwarding goroutine before done is closed.
	closeErr error
}

// NewListener creates a listener over st.
func NewListener(st *store.Store, sinks *crl.Sinks, opts ...Option) (*Listener, error) {
	if st == nil {
		return nil, errors.New("record store is required")
	}
	if sinks == nil {
		return nil, errors.New("sinks are required")
	}
	o := buildOptions(opts)
	return &Listener{
		store:      st,
		sinks:      sinks,
		logger:     o.logger,
		metrics:    o.metrics,
		retryDelay: o.retryDelay,
	}, nil
}

// Start opens the change stream and begins forwarding in a new goroutine. The
// stream is opened before Start returns so setup errors reach the caller.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return fmt.Errorf("listener already running: %w", sentinel.ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(ctx)
	changes, err := l.store.Watch(ctx, watchFilter)
	if err != nil {
		cancel()
		return fmt.Errorf("start listener: %w", err)
	}
	l.cancel = cancel
	l.closeErr = nil
	l.done = make(chan struct{})
	go l.run(ctx, changes, l.done)
	l.logger.InfoContext(ctx, "replication listener started", "base", l.store.BaseDN())
	return nil
}

// Stop interrupts the blocking wait, abandons the stream and waits for the
// forwarding goroutine to exit.
func (l *Listener) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	return l.closeErr
}

// run owns the change stream. A stream that fails with anything but a decode
// error is abandoned and reopened after retryDelay.
func (l *Listener) run(ctx context.Context, changes *store.Changes, done chan struct{}) {
	defer close(done)
	defer func() {
		if changes != nil {
			l.closeErr = changes.Close()
		}
	}()
	for {
		ch, err := changes.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, directory.ErrStreamClosed) {
				return
			}
			if errors.Is(err, store.ErrUndecodable) {
				l.logger.ErrorContext(ctx, "failed to decode replicated change",
					"dn", ch.DN,
					"error", err,
				)
				l.count("undecodable")
				continue
			}
			l.logger.ErrorContext(ctx, "change stream failed, reopening", "error", err)
			l.count("error")
			if cerr := changes.Close(); cerr != nil {
				l.logger.WarnContext(ctx, "failed to abandon change stream", "error", cerr)
			}
			changes = l.reopen(ctx)
			if changes == nil {
				return
			}
			continue
		}
		l.handle(ctx, ch)
	}
}

// reopen retries store.Watch every retryDelay until it succeeds or ctx is done,
// in which case it returns nil.
func (l *Listener) reopen(ctx context.Context) *store.Changes {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
		changes, err := l.store.Watch(ctx, watchFilter)
		if err == nil {
			l.logger.InfoContext(ctx, "change stream reopened", "base", l.store.BaseDN())
			return changes
		}
		l.logger.ErrorContext(ctx, "failed to reopen change stream", "error", err)
		l.count("error")
	}
}

func (l *Listener) handle(ctx context.Context, ch store.Change) {
	if ch.Type != directory.ChangeModify {
		l.count("ignored")
		return
	}
	rec := ch.Record
	switch rec.Status {
	case models.StatusRevoked:
		if rec.RevocationInfo == nil {
			l.logger.WarnContext(ctx, "revoked record without revocation info",
				"serial", rec.SerialNumber.String(),
				"change_id", ch.ID,
			)
			l.count("error")
			return
		}
		if failed := l.sinks.AddRevokedCert(ctx, rec.SerialNumber, rec.RevocationInfo); failed > 0 {
			l.count("sink_error")
			return
		}
	case models.StatusValid:
		if failed := l.sinks.AddUnrevokedCert(ctx, rec.SerialNumber); failed > 0 {
			l.count("sink_error")
			return
		}
	default:
		l.count("ignored")
		return
	}
	l.count("forwarded")
}

func (l *Listener) count(outcome string) {
	if l.metrics != nil {
		l.metrics.IncrementListenerEvent(outcome)
	}
}
