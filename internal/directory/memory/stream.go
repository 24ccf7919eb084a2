package memory

import (
	"context"
	"sync"

	"certstore/internal/directory"
	"certstore/internal/filter"
)

// stream queues matching changes without bound and wakes a blocked Next through a
// one-slot signal channel.
type stream struct {
	dir    *Directory
	base   string
	filter filter.Node

	mu     sync.Mutex
	queue  []directory.Change
	closed bool
	signal chan struct{}
}

func (s *stream) enqueue(c directory.Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	s.wake()
}

func (s *stream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *stream) Next(ctx context.Context) (directory.Change, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return c, nil
		}
		if s.closed {
			s.mu.Unlock()
			return directory.Change{}, directory.ErrStreamClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return directory.Change{}, ctx.Err()
		case <-s.signal:
		}
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.dir.subsMu.Lock()
	delete(s.dir.subs, s)
	s.dir.subsMu.Unlock()

	s.wake()
	return nil
}
