// Package store persists certificate records in a directory backend.
//
// Every operation runs inside its own short-lived directory session. Calls that
// change a record's status share one mutex per Store, which is also what the
// lifecycle sweep holds for a whole run through Exclusive.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/schema"
	"certstore/pkg/platform/sentinel"
	"certstore/pkg/requestcontext"
)

const defaultPageSize = 100

// Store is the certificate record store.
type Store struct {
	dir      directory.Directory
	registry *schema.Registry
	baseDN   string

	// mu serializes status mutations and whole sweeps.
	mu sync.Mutex

	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	clock    func() time.Time
	pageSize int
	serials  *SerialRange
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = t
	}
}

// WithClock overrides the time source. A time injected with
// requestcontext.WithTime still takes precedence.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithPageSize sets the page size canned queries fetch with.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSerialRange enables CheckRanges for the given range.
func WithSerialRange(r SerialRange) Option {
	return func(s *Store) {
		s.serials = &r
	}
}

// New constructs a Store rooted at baseDN.
func New(dir directory.Directory, registry *schema.Registry, baseDN string, opts ...Option) *Store {
	s := &Store{
		dir:      dir,
		registry: registry,
		baseDN:   baseDN,
		logger:   slog.Default(),
		tracer:   otel.Tracer("certstore/store"),
		clock:    time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseDN returns the subtree the store keeps its records under.
func (s *Store) BaseDN() string { return s.baseDN }

// Registry returns the schema the store encodes records with.
func (s *Store) Registry() *schema.Registry { return s.registry }

// DN returns the directory key of the record for serial.
func (s *Store) DN(serial *big.Int) string {
	return "cn=" + serial.String() + "," + s.baseDN
}

func (s *Store) now(ctx context.Context) time.Time {
	if t, ok := requestcontext.Time(ctx); ok {
		return t.UTC()
	}
	return s.clock().UTC()
}

// observe starts a span for op and returns the function that ends it. Call as
// defer done(&err) so the final error is recorded.
func (s *Store) observe(ctx context.Context, op string, serial *big.Int) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "store."+op)
	if serial != nil {
		span.SetAttributes(attribute.String("certificate.serial", serial.String()))
	}
	return ctx, func(errp *error) {
		outcome := "ok"
		if errp != nil && *errp != nil {
			outcome = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, outcome, start)
		}
	}
}

// withSession runs fn inside a fresh session that is closed on every path.
func (s *Store) withSession(ctx context.Context, fn func(directory.Session) error) error {
	sess, err := s.dir.Session(ctx)
	if err != nil {
		return fmt.Errorf("open directory session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "failed to close directory session", "error", cerr)
		}
	}()
	return fn(sess)
}

// AddRecord persists a new record. The certificate is required. An empty status
// defaults to INVALID when the certificate is not valid yet and VALID otherwise;
// an empty IssuedBy defaults to the acting principal. Creation and modification
// times are always stamped.
func (s *Store) AddRecord(ctx context.Context, rec *models.CertificateRecord) (err error) {
	if rec == nil || rec.SerialNumber == nil {
		return fmt.Errorf("add record: serial number is required: %w", sentinel.ErrSerialization)
	}
	if rec.Certificate == nil {
		return fmt.Errorf("add record %s: certificate is required: %w", rec.SerialNumber, sentinel.ErrSerialization)
	}
	ctx, done := s.observe(ctx, "add", rec.SerialNumber)
	defer done(&err)

	now := s.now(ctx).Truncate(time.Second)
	if rec.Status == "" {
		rec.Status = models.StatusValid
		if now.Before(rec.Certificate.NotBefore) {
			rec.Status = models.StatusInvalid
		}
	}
	if rec.IssuedBy == "" {
		rec.IssuedBy = requestcontext.Principal(ctx)
	}
	rec.CreateTime = now
	rec.ModifyTime = now

	attrs, err := s.registry.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("add record %s: %w", rec.SerialNumber, err)
	}
	err = s.withSession(ctx, func(sess directory.Session) error {
		return sess.Add(ctx, directory.Entry{DN: s.DN(rec.SerialNumber), Attrs: attrs})
	})
	if err != nil {
		return fmt.Errorf("add record %s: %w", rec.SerialNumber, err)
	}
	s.logger.InfoContext(ctx, "certificate record added",
		"serial", rec.SerialNumber.String(),
		"status", rec.Status,
		"issued_by", rec.IssuedBy,
	)
	return nil
}

// ReadRecord loads the record for serial.
func (s *Store) ReadRecord(ctx context.Context, serial *big.Int) (rec *models.CertificateRecord, err error) {
	ctx, done := s.observe(ctx, "read", serial)
	defer done(&err)

	err = s.withSession(ctx, func(sess directory.Session) error {
		rec, err = s.read(ctx, sess, serial)
		return err
	})
	return rec, err
}

func (s *Store) read(ctx context.Context, sess directory.Session, serial *big.Int) (*models.CertificateRecord, error) {
	entry, err := sess.Read(ctx, s.DN(serial), nil)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", serial, err)
	}
	return s.decode(entry)
}

func (s *Store) decode(entry directory.Entry) (*models.CertificateRecord, error) {
	decoded, err := s.registry.DecodeRecord(entry.Attrs)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", entry.DN, err)
	}
	rec, ok := decoded.(*models.CertificateRecord)
	if !ok {
		return nil, fmt.Errorf("decode %s: entry holds a %s: %w", entry.DN, decoded.RecordType(), sentinel.ErrSchema)
	}
	return rec, nil
}

// DeleteRecord removes the record for serial.
func (s *Store) DeleteRecord(ctx context.Context, serial *big.Int) (err error) {
	ctx, done := s.observe(ctx, "delete", serial)
	defer done(&err)

	err = s.withSession(ctx, func(sess directory.Session) error {
		return sess.Delete(ctx, s.DN(serial))
	})
	if err != nil {
		return fmt.Errorf("delete record %s: %w", serial, err)
	}
	s.logger.InfoContext(ctx, "certificate record deleted", "serial", serial.String())
	return nil
}

// ModifyRecord applies deltas in one atomic directory modification, stamping
// modifyTime.
func (s *Store) ModifyRecord(ctx context.Context, serial *big.Int, deltas []Delta) (err error) {
	ctx, done := s.observe(ctx, "modify", serial)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modify(ctx, serial, deltas)
}

func (s *Store) modify(ctx context.Context, serial *big.Int, deltas []Delta) error {
	deltas = append(slices.Clip(deltas), Replace(models.FieldModifyTime, s.now(ctx).Truncate(time.Second)))
	var mods []directory.Modification
	for _, d := range deltas {
		encoded, err := s.registry.EncodeDelta(d.Field, d.Op, d.Value)
		if err != nil {
			return fmt.Errorf("modify record %s: %w", serial, err)
		}
		mods = append(mods, encoded...)
	}
	err := s.withSession(ctx, func(sess directory.Session) error {
		return sess.Modify(ctx, s.DN(serial), mods)
	})
	if err != nil {
		return fmt.Errorf("modify record %s: %w", serial, err)
	}
	return nil
}

// MarkAsRevoked records a revocation. Revoking a record that already carries
// revocation info fails with sentinel.ErrConflictingUpdate and changes nothing.
func (s *Store) MarkAsRevoked(ctx context.Context, serial *big.Int, info *models.RevocationInfo) (err error) {
	if info == nil {
		return fmt.Errorf("mark revoked %s: revocation info is required: %w", serial, sentinel.ErrSerialization)
	}
	ctx, done := s.observe(ctx, "mark_revoked", serial)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	revokedBy := requestcontext.Principal(ctx)
	err = s.modify(ctx, serial, []Delta{
		Add(models.FieldRevocationInfo, info),
		Add(models.FieldRevokedBy, revokedBy),
		Add(models.FieldRevokedOn, s.now(ctx).Truncate(time.Second)),
		Replace(models.FieldStatus, string(models.StatusRevoked)),
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "certificate revoked",
		"serial", serial.String(),
		"reason", info.Reason.String(),
		"revoked_by", revokedBy,
	)
	return nil
}

// UnmarkRevoked rolls back a revocation. The supplied values must equal what is
// stored. Records in REVOKED_EXPIRED cannot be unrevoked.
func (s *Store) UnmarkRevoked(ctx context.Context, serial *big.Int, info *models.RevocationInfo, revokedOn time.Time, revokedBy string) (err error) {
	if info == nil {
		return fmt.Errorf("unmark revoked %s: revocation info is required: %w", serial, sentinel.ErrSerialization)
	}
	ctx, done := s.observe(ctx, "unmark_revoked", serial)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.CertificateRecord
	err = s.withSession(ctx, func(sess directory.Session) error {
		current, err = s.read(ctx, sess, serial)
		return err
	})
	if err != nil {
		return fmt.Errorf("unmark revoked: %w", err)
	}
	if current.Status == models.StatusRevokedExpired {
		return fmt.Errorf("unmark revoked %s: record is %s: %w", serial, current.Status, sentinel.ErrInvalidState)
	}

	err = s.modify(ctx, serial, []Delta{
		Remove(models.FieldRevocationInfo, info),
		Remove(models.FieldRevokedBy, revokedBy),
		Remove(models.FieldRevokedOn, revokedOn),
		Replace(models.FieldStatus, string(models.StatusValid)),
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "certificate revocation rolled back", "serial", serial.String())
	return nil
}

// UpdateStatus replaces the status of a record.
func (s *Store) UpdateStatus(ctx context.Context, serial *big.Int, status models.Status) (err error) {
	ctx, done := s.observe(ctx, "update_status", serial)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatus(ctx, serial, status)
}

func (s *Store) updateStatus(ctx context.Context, serial *big.Int, status models.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("update status %s: unknown status %q: %w", serial, status, sentinel.ErrSerialization)
	}
	return s.modify(ctx, serial, []Delta{Replace(models.FieldStatus, string(status))})
}

// Locked exposes status mutations to code that already holds the store mutex
// through Exclusive.
type Locked struct {
	store *Store
}

// UpdateStatus is Store.UpdateStatus without taking the mutex.
func (l *Locked) UpdateStatus(ctx context.Context, serial *big.Int, status models.Status) (err error) {
	ctx, done := l.store.observe(ctx, "update_status", serial)
	defer done(&err)
	return l.store.updateStatus(ctx, serial, status)
}

// ModifyRecord is Store.ModifyRecord without taking the mutex.
func (l *Locked) ModifyRecord(ctx context.Context, serial *big.Int, deltas []Delta) (err error) {
	ctx, done := l.store.observe(ctx, "modify", serial)
	defer done(&err)
	return l.store.modify(ctx, serial, deltas)
}

// Exclusive runs fn while holding the store mutex. Status mutations made through
// the Store block until fn returns. ctx is checked before the mutex is taken.
func (s *Store) Exclusive(ctx context.Context, fn func(ctx context.Context, l *Locked) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &Locked{store: s})
}
