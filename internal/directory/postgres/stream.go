package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

type notification struct {
	Op string `json:"op"`
	DN string `json:"dn"`
}

// stream holds one pooled connection in LISTEN mode. Next reads the changed entry
// back after each notification, so a delivered Entry may already reflect a later
// write.
type stream struct {
	dir    *Directory
	base   string
	filter filter.Node

	// closing interrupts a blocked Next.
	closing context.Context
	cancel  context.CancelFunc

	// mu is held by Next while it uses conn.
	mu     sync.Mutex
	conn   *pgxpool.Conn
	closed bool
}

func (d *Directory) openStream(ctx context.Context, base, filterText string) (directory.ChangeStream, error) {
	n, err := parseOptional(filterText)
	if err != nil {
		return nil, err
	}
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("open change stream: listen: %w", err)
	}

	closing, cancel := context.WithCancel(context.Background())
	s := &stream{
		dir:     d,
		base:    base,
		filter:  n,
		closing: closing,
		cancel:  cancel,
		conn:    conn,
	}
	d.mu.Lock()
	d.streams[s] = struct{}{}
	d.mu.Unlock()
	return s, nil
}

func (s *stream) Next(ctx context.Context) (directory.Change, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(s.closing, stop)
	defer unregister()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return directory.Change{}, directory.ErrStreamClosed
		}
		n, err := s.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if s.closing.Err() != nil {
				return directory.Change{}, directory.ErrStreamClosed
			}
			if ctx.Err() != nil {
				return directory.Change{}, ctx.Err()
			}
			return directory.Change{}, fmt.Errorf("wait for change: %w: %w", sentinel.ErrUnavailable, err)
		}

		var note notification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
			s.dir.logger.WarnContext(ctx, "ignoring malformed change notification", "payload", n.Payload, "error", err)
			continue
		}
		if !directory.InScope(note.DN, s.base) {
			continue
		}
		change, ok, err := s.resolve(ctx, note)
		if err != nil {
			return directory.Change{}, err
		}
		if ok {
			return change, nil
		}
	}
}

// resolve turns a notification into a Change, reporting false when the entry no
// longer matches the stream filter. Deleted rows cannot be read back, so deletes
// reach unfiltered streams only.
func (s *stream) resolve(ctx context.Context, note notification) (directory.Change, bool, error) {
	change := directory.Change{ID: uuid.NewString()}
	switch note.Op {
	case "insert":
		change.Type = directory.ChangeAdd
	case "update":
		change.Type = directory.ChangeModify
	case "delete":
		change.Type = directory.ChangeDelete
		change.Entry = directory.Entry{DN: note.DN, Attrs: directory.Attributes{}}
		return change, s.filter == nil, nil
	default:
		return change, false, nil
	}

	entry, err := s.dir.read(ctx, note.DN, nil)
	if errors.Is(err, sentinel.ErrNotFound) {
		return change, false, nil
	}
	if err != nil {
		return change, false, fmt.Errorf("resolve change of %s: %w", note.DN, err)
	}
	if s.filter != nil && !filter.Match(s.filter, entry.Attrs) {
		return change, false, nil
	}
	change.Entry = entry
	return change, true, nil
}

// Close interrupts a pending Next, stops listening and returns the connection to
// the pool.
func (s *stream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dir.forget(s)

	var err error
	if !s.conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, uerr := s.conn.Exec(ctx, "UNLISTEN "+Channel); uerr != nil {
			err = fmt.Errorf("close change stream: %w", uerr)
		}
	}
	s.conn.Release()
	return err
}
