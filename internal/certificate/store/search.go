package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// AnchorEnd is the reserved anchor value positioning a window after its last
// entry. With a negative page size the window then scans the whole result set
// backwards.
const AnchorEnd = "~end"

// SearchRequest describes a windowed search.
type SearchRequest struct {
	// Filter is a logical filter; empty selects every certificate record.
	Filter string
	// Attrs limits the fields loaded per record; empty loads all of them.
	Attrs []string
	// SortKey is the logical field the window orders by, serialNumber if empty.
	SortKey string
	// Anchor is a logical value of SortKey. Empty positions at the start.
	Anchor string
	// PageSize must be non-zero. A negative size scans backwards from the
	// anchor.
	PageSize int
}

// Window is a lazily paged view over a sorted search, positioned at an anchor.
// Element indexes are relative to the anchor in scan direction. A Window holds a
// directory session until Close and must not be shared between goroutines.
type Window struct {
	store    *Store
	sess     directory.Session
	view     directory.Window
	pageSize int
	pages    map[int][]*models.CertificateRecord
}

// Search opens a window. The caller must Close it.
func (s *Store) Search(ctx context.Context, req SearchRequest) (w *Window, err error) {
	ctx, done := s.observe(ctx, "search", nil)
	defer done(&err)

	if req.PageSize == 0 {
		return nil, fmt.Errorf("search: page size must be non-zero: %w", sentinel.ErrInvalidFilter)
	}
	wreq, err := s.windowRequest(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	sess, err := s.dir.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: open directory session: %w", err)
	}
	view, err := sess.OpenWindow(ctx, wreq)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("search: %w", err)
	}
	return &Window{
		store:    s,
		sess:     sess,
		view:     view,
		pageSize: req.PageSize,
		pages:    make(map[int][]*models.CertificateRecord),
	}, nil
}

func (s *Store) windowRequest(req SearchRequest) (directory.WindowRequest, error) {
	text, err := s.compile(req.Filter)
	if err != nil {
		return directory.WindowRequest{}, err
	}
	attrs, err := s.registry.ResolveProjection(req.Attrs)
	if err != nil {
		return directory.WindowRequest{}, err
	}
	sortKey := req.SortKey
	if sortKey == "" {
		sortKey = models.FieldSerialNumber
	}
	sortAttr, err := s.registry.SortAttribute(sortKey)
	if err != nil {
		return directory.WindowRequest{}, err
	}
	if attrs != nil && !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, sortAttr) }) {
		attrs = append(attrs, sortAttr)
	}

	wreq := directory.WindowRequest{
		Base:     s.baseDN,
		Filter:   text,
		Attrs:    attrs,
		SortAttr: sortAttr,
	}
	switch req.Anchor {
	case "":
	case AnchorEnd:
		wreq.AnchorEnd = true
	default:
		anchor, err := s.registry.EncodeAnchor(sortKey, req.Anchor)
		if err != nil {
			return directory.WindowRequest{}, err
		}
		wreq.Anchor = anchor
	}
	return wreq, nil
}

// compile translates a logical filter and restricts it to certificate records.
func (s *Store) compile(text string) (string, error) {
	typeClause, err := s.registry.ObjectClassClause(models.RecordType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return typeClause.String(), nil
	}
	n, err := filter.Compile(text, s.registry)
	if err != nil {
		return "", err
	}
	return filter.AndOf(typeClause, n).String(), nil
}

// TotalSize is the number of entries matching the search.
func (w *Window) TotalSize() int { return w.view.TotalSize() }

// SizeBeforeAnchor is the number of entries sorting before the anchor.
func (w *Window) SizeBeforeAnchor() int { return w.view.SizeBeforeAnchor() }

// SizeAfterAnchor is the number of entries at or after the anchor.
func (w *Window) SizeAfterAnchor() int { return w.TotalSize() - w.SizeBeforeAnchor() }

// PageSize returns the signed page size the window was opened with.
func (w *Window) PageSize() int { return w.pageSize }

// Remaining is the number of elements reachable in scan direction.
func (w *Window) Remaining() int {
	if w.pageSize > 0 {
		return w.SizeAfterAnchor()
	}
	return w.SizeBeforeAnchor()
}

// ElementAt returns the i-th element from the anchor in scan direction, fetching
// and caching its page on first access. ok is false when i is out of range.
func (w *Window) ElementAt(ctx context.Context, i int) (rec *models.CertificateRecord, ok bool, err error) {
	if i < 0 || i >= w.Remaining() {
		return nil, false, nil
	}
	size := w.pageSize
	if size < 0 {
		size = -size
	}
	page, idx := i/size, i%size

	records, cached := w.pages[page]
	if !cached {
		records, err = w.fetchPage(ctx, page, size)
		if err != nil {
			return nil, false, err
		}
		w.pages[page] = records
	}
	if idx >= len(records) {
		return nil, false, nil
	}
	return records[idx], true, nil
}

func (w *Window) fetchPage(ctx context.Context, page, size int) ([]*models.CertificateRecord, error) {
	before := w.SizeBeforeAnchor()
	var offset, limit int
	if w.pageSize > 0 {
		offset, limit = before+page*size, size
	} else {
		end := before - page*size
		offset = max(0, end-size)
		limit = end - offset
	}
	entries, err := w.view.Fetch(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	records := make([]*models.CertificateRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := w.store.decode(e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if w.pageSize < 0 {
		slices.Reverse(records)
	}
	return records, nil
}

// Close releases the window and its session.
func (w *Window) Close() error {
	verr := w.view.Close()
	serr := w.sess.Close()
	if verr != nil {
		return verr
	}
	return serr
}

// Find returns up to limit records matching a logical filter, in no particular
// order. A limit of zero means no limit.
func (s *Store) Find(ctx context.Context, filterText string, limit int) (recs []*models.CertificateRecord, err error) {
	ctx, done := s.observe(ctx, "find", nil)
	defer done(&err)

	text, err := s.compile(filterText)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	err = s.withSession(ctx, func(sess directory.Session) error {
		entries, err := sess.Search(ctx, directory.SearchRequest{Base: s.baseDN, Filter: text, Limit: limit})
		if err != nil {
			return err
		}
		recs = make([]*models.CertificateRecord, 0, len(entries))
		for _, e := range entries {
			rec, err := s.decode(e)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return recs, nil
}
