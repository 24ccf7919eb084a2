package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"certstore/internal/certificate/models"
	"certstore/internal/crl"
)

var _ crl.Sink = (*Postgres)(nil)

// Postgres persists CRL entries of one issuing point in the crl_entries table.
type Postgres struct {
	db    *sql.DB
	point string
	clock func() time.Time
}

type PostgresOption func(*Postgres)

// WithPostgresClock sets the clock used for updated_at.
func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(p *Postgres) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPostgres creates a sink for issuing point point.
func NewPostgres(db *sql.DB, point string, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, point: point, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

const crlEntriesSchema = `
	CREATE TABLE IF NOT EXISTS crl_entries (
		issuing_point   TEXT        NOT NULL,
		serial          NUMERIC     NOT NULL,
		revoked         BOOLEAN     NOT NULL DEFAULT FALSE,
		expired         BOOLEAN     NOT NULL DEFAULT FALSE,
		reason          INTEGER,
		revocation_date TIMESTAMPTZ,
		invalidity_date TIMESTAMPTZ,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (issuing_point, serial)
	)`

// Migrate creates the crl_entries table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, crlEntriesSchema); err != nil {
		return fmt.Errorf("migrate crl_entries: %w", err)
	}
	return nil
}

func (p *Postgres) AddRevokedCert(ctx context.Context, serial *big.Int, info *models.RevocationInfo) error {
	if info == nil {
		return errors.New("postgres sink: revocation info is required")
	}
	query := `
		INSERT INTO crl_entries (issuing_point, serial, revoked, expired, reason, revocation_date, invalidity_date, updated_at)
		VALUES ($1, $2, TRUE, FALSE, $3, $4, $5, $6)
		ON CONFLICT (issuing_point, serial) DO UPDATE SET
			revoked = TRUE,
			expired = FALSE,
			reason = EXCLUDED.reason,
			revocation_date = EXCLUDED.revocation_date,
			invalidity_date = EXCLUDED.invalidity_date,
			updated_at = EXCLUDED.updated_at
	`
	var invalidity sql.NullTime
	if info.InvalidityDate != nil {
		invalidity = sql.NullTime{Time: *info.InvalidityDate, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, query, p.point, serial.String(), int(info.Reason), info.Date, invalidity, p.clock())
	if err != nil {
		return fmt.Errorf("postgres sink: add revoked %s: %w", serial, err)
	}
	return nil
}

func (p *Postgres) AddUnrevokedCert(ctx context.Context, serial *big.Int) error {
	query := `
		UPDATE crl_entries
		SET revoked = FALSE, reason = NULL, revocation_date = NULL, invalidity_date = NULL, updated_at = $3
		WHERE issuing_point = $1 AND serial = $2
	`
	if _, err := p.db.ExecContext(ctx, query, p.point, serial.String(), p.clock()); err != nil {
		return fmt.Errorf("postgres sink: add unrevoked %s: %w", serial, err)
	}
	return nil
}

func (p *Postgres) AddExpiredCert(ctx context.Context, serial *big.Int) error {
	query := `
		INSERT INTO crl_entries (issuing_point, serial, revoked, expired, updated_at)
		VALUES ($1, $2, FALSE, TRUE, $3)
		ON CONFLICT (issuing_point, serial) DO UPDATE SET
			revoked = FALSE,
			expired = TRUE,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.ExecContext(ctx, query, p.point, serial.String(), p.clock()); err != nil {
		return fmt.Errorf("postgres sink: add expired %s: %w", serial, err)
	}
	return nil
}

// RevokedSerials lists the serials currently on the CRL in ascending order.
func (p *Postgres) RevokedSerials(ctx context.Context) ([]*big.Int, error) {
	var raw []string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(serial::text ORDER BY serial), '{}')
		FROM crl_entries
		WHERE issuing_point = $1 AND revoked
	`, p.point).Scan(pq.Array(&raw))
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list revoked: %w", err)
	}
	serials := make([]*big.Int, 0, len(raw))
	for _, s := range raw {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("postgres sink: malformed serial %q", s)
		}
		serials = append(serials, n)
	}
	return serials, nil
}

// Entry loads the stored revocation info for serial; ok is false if serial is not
// revoked.
func (p *Postgres) Entry(ctx context.Context, serial *big.Int) (info *models.RevocationInfo, ok bool, err error) {
	var (
		reason     int
		date       time.Time
		invalidity sql.NullTime
	)
	err = p.db.QueryRowContext(ctx, `
		SELECT reason, revocation_date, invalidity_date
		FROM crl_entries
		WHERE issuing_point = $1 AND serial = $2 AND revoked
	`, p.point, serial.String()).Scan(&reason, &date, &invalidity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres sink: read %s: %w", serial, err)
	}
	var inv *time.Time
	if invalidity.Valid {
		inv = &invalidity.Time
	}
	info, err = models.NewRevocationInfo(date, models.RevocationReason(reason), inv)
	if err != nil {
		return nil, false, fmt.Errorf("postgres sink: read %s: %w", serial, err)
	}
	return info, true, nil
}
