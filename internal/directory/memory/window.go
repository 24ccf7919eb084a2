package memory

import (
	"context"
	"slices"

	"certstore/internal/directory"
	"certstore/internal/filter"
)

// window re-runs its search on every Fetch, so offsets drift if entries change
// between calls. Counts are taken once when the window is opened.
type window struct {
	dir    *Directory
	req    directory.WindowRequest
	filter filter.Node

	total  int
	before int
}

func (w *window) sorted() []directory.Entry {
	found := w.dir.matching(w.req.Base, w.filter)
	slices.SortFunc(found, func(a, b directory.Entry) int {
		return directory.CompareForSort(a, b, w.req.SortAttr)
	})
	return found
}

func (w *window) refreshCounts() {
	found := w.sorted()
	w.total = len(found)
	if w.req.AnchorEnd {
		w.before = w.total
		return
	}
	w.before = 0
	for _, e := range found {
		if directory.BeforeAnchor(e, w.req.SortAttr, w.req.Anchor) {
			w.before++
		}
	}
}

func (w *window) TotalSize() int { return w.total }

func (w *window) SizeBeforeAnchor() int { return w.before }

func (w *window) Fetch(_ context.Context, offset, limit int) ([]directory.Entry, error) {
	found := w.sorted()
	if offset < 0 || offset >= len(found) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(found))
	page := found[offset:end]
	for i := range page {
		page[i].Attrs = page[i].Attrs.Project(w.req.Attrs)
	}
	return page, nil
}

func (w *window) Close() error { return nil }
