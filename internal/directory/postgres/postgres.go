// Package postgres is a directory backend on PostgreSQL. Entries live in one table
// keyed by lower-cased DN with their attributes in a jsonb column; change streams
// are fed by a trigger that NOTIFYs on every write.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// Channel is the NOTIFY channel the change trigger publishes on.
const Channel = "directory_changes"

var errSessionClosed = errors.New("session closed")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS directory_entries (
	dn_key TEXT PRIMARY KEY,
	dn     TEXT  NOT NULL,
	attrs  JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS directory_entries_attrs_idx
	ON directory_entries USING GIN (attrs);

CREATE OR REPLACE FUNCTION directory_entries_notify() RETURNS trigger AS $$
DECLARE
	changed directory_entries;
BEGIN
	IF TG_OP = 'DELETE' THEN
		changed := OLD;
	ELSE
		changed := NEW;
	END IF;
	PERFORM pg_notify('directory_changes',
		json_build_object('op', lower(TG_OP), 'dn', changed.dn)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE TRIGGER directory_entries_changes
	AFTER INSERT OR UPDATE OR DELETE ON directory_entries
	FOR EACH ROW EXECUTE FUNCTION directory_entries_notify();
`

// Directory is the PostgreSQL directory backend. The pool is owned by the caller.
type Directory struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	streams map[*stream]struct{}
}

type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// New creates a backend on pool. Call Migrate once before first use.
func New(pool *pgxpool.Pool, opts ...Option) *Directory {
	d := &Directory{
		pool:    pool,
		logger:  slog.Default(),
		streams: make(map[*stream]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Migrate creates the entries table, its index and the change trigger.
func (d *Directory) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate directory schema: %w", err)
	}
	return nil
}

// Session returns a handle on the pool. Connections are taken per statement.
func (d *Directory) Session(ctx context.Context) (directory.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{dir: d}, nil
}

// Close abandons every open change stream. The pool stays open.
func (d *Directory) Close() error {
	d.mu.Lock()
	streams := make([]*stream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range streams {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (d *Directory) forget(s *stream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

func marshalAttrs(attrs directory.Attributes) ([]byte, error) {
	normalized := make(directory.Attributes, len(attrs))
	for k, v := range attrs {
		normalized.Set(k, v...)
	}
	return json.Marshal(normalized)
}

func (d *Directory) add(ctx context.Context, entry directory.Entry) error {
	raw, err := marshalAttrs(entry.Attrs)
	if err != nil {
		return fmt.Errorf("add %s: encode attributes: %w", entry.DN, err)
	}
	tag, err := d.pool.Exec(ctx, `
		INSERT INTO directory_entries (dn_key, dn, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (dn_key) DO NOTHING
	`, dnKey(entry.DN), strings.TrimSpace(entry.DN), raw)
	if err != nil {
		return fmt.Errorf("add %s: %w", entry.DN, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add %s: %w", entry.DN, sentinel.ErrDuplicateKey)
	}
	return nil
}

func (d *Directory) read(ctx context.Context, dn string, attrs []string) (directory.Entry, error) {
	e, err := scanEntry(d.pool.QueryRow(ctx,
		`SELECT dn, attrs FROM directory_entries WHERE dn_key = $1`, dnKey(dn)))
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.Entry{}, fmt.Errorf("read %s: %w", dn, sentinel.ErrNotFound)
	}
	if err != nil {
		return directory.Entry{}, fmt.Errorf("read %s: %w", dn, err)
	}
	e.Attrs = e.Attrs.Project(attrs)
	return e, nil
}

func (d *Directory) delete(ctx context.Context, dn string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM directory_entries WHERE dn_key = $1`, dnKey(dn))
	if err != nil {
		return fmt.Errorf("delete %s: %w", dn, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", dn, sentinel.ErrNotFound)
	}
	return nil
}

// modify locks the row, applies mods in Go and writes the result back in the same
// transaction.
func (d *Directory) modify(ctx context.Context, dn string, mods []directory.Modification) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		e, err := scanEntry(tx.QueryRow(ctx,
			`SELECT dn, attrs FROM directory_entries WHERE dn_key = $1 FOR UPDATE`, dnKey(dn)))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("modify %s: %w", dn, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("modify %s: %w", dn, err)
		}
		updated, err := directory.ApplyModifications(e.Attrs, mods)
		if err != nil {
			return fmt.Errorf("modify %s: %w", dn, err)
		}
		raw, err := marshalAttrs(updated)
		if err != nil {
			return fmt.Errorf("modify %s: encode attributes: %w", dn, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE directory_entries SET attrs = $2 WHERE dn_key = $1`, dnKey(dn), raw); err != nil {
			return fmt.Errorf("modify %s: %w", dn, err)
		}
		return nil
	})
}

func (d *Directory) search(ctx context.Context, req directory.SearchRequest) ([]directory.Entry, error) {
	n, err := parseOptional(req.Filter)
	if err != nil {
		return nil, err
	}
	var q query
	scope := q.scope(req.Base)
	where, err := q.where(n)
	if err != nil {
		return nil, err
	}
	sql := "SELECT dn, attrs FROM directory_entries WHERE " + scope + " AND " + where + " ORDER BY dn_key"
	if req.Limit > 0 {
		sql += " LIMIT " + q.arg(req.Limit)
	}
	return d.collect(ctx, sql, q.args, req.Attrs)
}

func (d *Directory) collect(ctx context.Context, sql string, args []any, attrs []string) ([]directory.Entry, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []directory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		e.Attrs = e.Attrs.Project(attrs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (directory.Entry, error) {
	var (
		e   directory.Entry
		raw []byte
	)
	if err := row.Scan(&e.DN, &raw); err != nil {
		return directory.Entry{}, err
	}
	if err := json.Unmarshal(raw, &e.Attrs); err != nil {
		return directory.Entry{}, fmt.Errorf("decode attributes of %s: %w", e.DN, err)
	}
	if e.Attrs == nil {
		e.Attrs = directory.Attributes{}
	}
	return e, nil
}

func parseOptional(text string) (filter.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return filter.Parse(text)
}

type session struct {
	dir    *Directory
	closed atomic.Bool
}

func (s *session) check() error {
	if s.closed.Load() {
		return errSessionClosed
	}
	return nil
}

func (s *session) Add(ctx context.Context, entry directory.Entry) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.add(ctx, entry)
}

func (s *session) Read(ctx context.Context, dn string, attrs []string) (directory.Entry, error) {
	if err := s.check(); err != nil {
		return directory.Entry{}, err
	}
	return s.dir.read(ctx, dn, attrs)
}

func (s *session) Delete(ctx context.Context, dn string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.delete(ctx, dn)
}

func (s *session) Modify(ctx context.Context, dn string, mods []directory.Modification) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.modify(ctx, dn, mods)
}

func (s *session) Search(ctx context.Context, req directory.SearchRequest) ([]directory.Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.search(ctx, req)
}

func (s *session) OpenWindow(ctx context.Context, req directory.WindowRequest) (directory.Window, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.openWindow(ctx, req)
}

func (s *session) OpenChangeStream(ctx context.Context, base, filterText string) (directory.ChangeStream, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.openStream(ctx, base, filterText)
}

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}
