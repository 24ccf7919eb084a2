package postgres

import (
	"context"
	"fmt"

	"certstore/internal/directory"
	"certstore/pkg/platform/sentinel"
)

// window counts once at open and runs one OFFSET/LIMIT query per Fetch. Entries
// without a sort value sort last; DN breaks ties, matching
// directory.CompareForSort.
type window struct {
	dir   *Directory
	req   directory.WindowRequest
	from  string
	order string
	args  []any

	total  int
	before int
}

func (d *Directory) openWindow(ctx context.Context, req directory.WindowRequest) (directory.Window, error) {
	if req.SortAttr == "" {
		return nil, fmt.Errorf("%w: window requires a sort attribute", sentinel.ErrInvalidFilter)
	}
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
	sortValue := q.sortValue(req.SortAttr)
	w := &window{
		dir:   d,
		req:   req,
		from:  "FROM directory_entries WHERE " + scope + " AND " + where,
		order: "ORDER BY " + sortValue + ` ASC NULLS LAST, dn_key COLLATE "C"`,
		args:  q.args,
	}

	countArgs := append([]any(nil), q.args...)
	anchorArg := fmt.Sprintf("$%d", len(countArgs)+1)
	countArgs = append(countArgs, req.Anchor)
	countSQL := "SELECT count(*), count(*) FILTER (WHERE " + sortValue + " < " + anchorArg + ") " + w.from
	if err := d.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&w.total, &w.before); err != nil {
		return nil, fmt.Errorf("open window: %w", err)
	}
	if req.AnchorEnd {
		w.before = w.total
	}
	return w, nil
}

func (w *window) TotalSize() int { return w.total }

func (w *window) SizeBeforeAnchor() int { return w.before }

func (w *window) Fetch(ctx context.Context, offset, limit int) ([]directory.Entry, error) {
	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	args := append([]any(nil), w.args...)
	args = append(args, offset, limit)
	sql := fmt.Sprintf("SELECT dn, attrs %s %s OFFSET $%d LIMIT $%d", w.from, w.order, len(args)-1, len(args))
	return w.dir.collect(ctx, sql, args, w.req.Attrs)
}

func (w *window) Close() error { return nil }
