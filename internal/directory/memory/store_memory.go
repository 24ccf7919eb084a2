package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

var errSessionClosed = errors.New("session closed")

// Directory is an in-memory directory backend. Filters are evaluated with
// filter.Match and windows are re-sorted on every fetch, favoring clarity over
// performance.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]directory.Entry

	subsMu sync.Mutex
	subs   map[*stream]struct{}

	openSessions atomic.Int64
}

// New constructs an empty in-memory directory.
func New() *Directory {
	return &Directory{
		entries: make(map[string]directory.Entry),
		subs:    make(map[*stream]struct{}),
	}
}

// Session returns a new session. Sessions are cheap; they exist so callers exercise
// the same scoped lifecycle as networked backends.
func (d *Directory) Session(_ context.Context) (directory.Session, error) {
	d.openSessions.Add(1)
	return &session{dir: d}, nil
}

// OpenSessions reports how many sessions have not been closed yet.
func (d *Directory) OpenSessions() int {
	return int(d.openSessions.Load())
}

// Close abandons every open change stream.
func (d *Directory) Close() error {
	d.subsMu.Lock()
	subs := make([]*stream, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.subsMu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

func key(dn string) string { return strings.ToLower(strings.TrimSpace(dn)) }

func (d *Directory) add(entry directory.Entry) error {
	d.mu.Lock()
	k := key(entry.DN)
	if _, exists := d.entries[k]; exists {
		d.mu.Unlock()
		return fmt.Errorf("add %s: %w", entry.DN, sentinel.ErrDuplicateKey)
	}
	stored := directory.Entry{DN: entry.DN, Attrs: entry.Attrs.Clone()}
	d.entries[k] = stored
	d.mu.Unlock()

	d.publish(directory.ChangeAdd, stored)
	return nil
}

func (d *Directory) read(dn string, attrs []string) (directory.Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key(dn)]
	if !ok {
		return directory.Entry{}, fmt.Errorf("read %s: %w", dn, sentinel.ErrNotFound)
	}
	return directory.Entry{DN: e.DN, Attrs: e.Attrs.Project(attrs)}, nil
}

func (d *Directory) delete(dn string) error {
	d.mu.Lock()
	k := key(dn)
	e, ok := d.entries[k]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("delete %s: %w", dn, sentinel.ErrNotFound)
	}
	delete(d.entries, k)
	d.mu.Unlock()

	d.publish(directory.ChangeDelete, e)
	return nil
}

func (d *Directory) modify(dn string, mods []directory.Modification) error {
	d.mu.Lock()
	k := key(dn)
	e, ok := d.entries[k]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("modify %s: %w", dn, sentinel.ErrNotFound)
	}
	updated, err := directory.ApplyModifications(e.Attrs, mods)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("modify %s: %w", dn, err)
	}
	e.Attrs = updated
	d.entries[k] = e
	snapshot := directory.Entry{DN: e.DN, Attrs: updated.Clone()}
	d.mu.Unlock()

	d.publish(directory.ChangeModify, snapshot)
	return nil
}

// matching returns every entry under base accepted by f, sorted by DN.
func (d *Directory) matching(base string, f filter.Node) []directory.Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []directory.Entry
	for _, e := range d.entries {
		if !directory.InScope(e.DN, base) {
			continue
		}
		if f != nil && !filter.Match(f, e.Attrs) {
			continue
		}
		out = append(out, directory.Entry{DN: e.DN, Attrs: e.Attrs.Clone()})
	}
	slices.SortFunc(out, func(a, b directory.Entry) int {
		return strings.Compare(key(a.DN), key(b.DN))
	})
	return out
}

func (d *Directory) search(req directory.SearchRequest) ([]directory.Entry, error) {
	f, err := parseOptional(req.Filter)
	if err != nil {
		return nil, err
	}
	found := d.matching(req.Base, f)
	if req.Limit > 0 && len(found) > req.Limit {
		found = found[:req.Limit]
	}
	for i := range found {
		found[i].Attrs = found[i].Attrs.Project(req.Attrs)
	}
	return found, nil
}

func (d *Directory) openWindow(req directory.WindowRequest) (directory.Window, error) {
	if req.SortAttr == "" {
		return nil, fmt.Errorf("%w: window requires a sort attribute", sentinel.ErrInvalidFilter)
	}
	f, err := parseOptional(req.Filter)
	if err != nil {
		return nil, err
	}
	w := &window{dir: d, req: req, filter: f}
	w.refreshCounts()
	return w, nil
}

func (d *Directory) openStream(base, filterText string) (directory.ChangeStream, error) {
	f, err := parseOptional(filterText)
	if err != nil {
		return nil, err
	}
	s := &stream{
		dir:    d,
		base:   base,
		filter: f,
		signal: make(chan struct{}, 1),
	}
	d.subsMu.Lock()
	d.subs[s] = struct{}{}
	d.subsMu.Unlock()
	return s, nil
}

func (d *Directory) publish(t directory.ChangeType, e directory.Entry) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for s := range d.subs {
		if !directory.InScope(e.DN, s.base) {
			continue
		}
		if s.filter != nil && !filter.Match(s.filter, e.Attrs) {
			continue
		}
		s.enqueue(directory.Change{
			ID:    uuid.NewString(),
			Type:  t,
			Entry: directory.Entry{DN: e.DN, Attrs: e.Attrs.Clone()},
		})
	}
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

func (s *session) Add(_ context.Context, entry directory.Entry) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.add(entry)
}

func (s *session) Read(_ context.Context, dn string, attrs []string) (directory.Entry, error) {
	if err := s.check(); err != nil {
		return directory.Entry{}, err
	}
	return s.dir.read(dn, attrs)
}

func (s *session) Delete(_ context.Context, dn string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.delete(dn)
}

func (s *session) Modify(_ context.Context, dn string, mods []directory.Modification) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.dir.modify(dn, mods)
}

func (s *session) Search(_ context.Context, req directory.SearchRequest) ([]directory.Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.search(req)
}

func (s *session) OpenWindow(_ context.Context, req directory.WindowRequest) (directory.Window, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.openWindow(req)
}

func (s *session) OpenChangeStream(_ context.Context, base, filterText string) (directory.ChangeStream, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.dir.openStream(base, filterText)
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.dir.openSessions.Add(-1)
	}
	return nil
}
