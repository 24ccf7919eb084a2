// Package directory defines the contract of the directory backend the certificate
// store persists into. Entries are keyed by distinguished name and carry
// multi-valued string attributes; filters are expressed in the syntax of package
// filter.
//
// Backends live in subpackages: memory for tests and single-process use, postgres
// for shared deployments.
package directory

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by ChangeStream.Next after Close.
var ErrStreamClosed = errors.New("change stream closed")

// Directory hands out scoped sessions. Callers must Close every session they open.
type Directory interface {
	Session(ctx context.Context) (Session, error)
	Close() error
}

// Session is a short-lived handle on the backend.
type Session interface {
	// Add creates an entry. Fails with sentinel.ErrDuplicateKey if dn exists.
	Add(ctx context.Context, entry Entry) error
	// Read returns the entry at dn, limited to attrs when non-empty. Fails with
	// sentinel.ErrNotFound if absent.
	Read(ctx context.Context, dn string, attrs []string) (Entry, error)
	// Delete removes the entry at dn. Fails with sentinel.ErrNotFound if absent.
	Delete(ctx context.Context, dn string) error
	// Modify applies all modifications atomically or none of them.
	Modify(ctx context.Context, dn string, mods []Modification) error
	// Search returns entries under req.Base matching req.Filter.
	Search(ctx context.Context, req SearchRequest) ([]Entry, error)
	// OpenWindow opens an anchor-positioned, sorted view over a search.
	OpenWindow(ctx context.Context, req WindowRequest) (Window, error)
	// OpenChangeStream delivers changes to entries under base matching filter.
	OpenChangeStream(ctx context.Context, base, filter string) (ChangeStream, error)
	Close() error
}

// SearchRequest is a plain, unsorted search.
type SearchRequest struct {
	Base   string
	Filter string
	Attrs  []string
	Limit  int
}

// WindowRequest positions a sorted view at Anchor: entries whose SortAttr value
// compares below Anchor lie before it. AnchorEnd positions after the last entry.
type WindowRequest struct {
	Base      string
	Filter    string
	Attrs     []string
	SortAttr  string
	Anchor    string
	AnchorEnd bool
}

// Window is a best-effort, offset-addressable view over a sorted result set.
// Offsets are absolute positions in ascending sort order. Concurrent writes may
// shift offsets between calls; a Window is not safe for concurrent use.
type Window interface {
	TotalSize() int
	SizeBeforeAnchor() int
	Fetch(ctx context.Context, offset, limit int) ([]Entry, error)
	Close() error
}

// ChangeType classifies a change notification.
type ChangeType int

const (
	ChangeAdd ChangeType = iota + 1
	ChangeModify
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one delivered notification. Entry holds the post-change state, or
// the last known state for deletes.
type Change struct {
	ID    string
	Type  ChangeType
	Entry Entry
}

// ChangeStream is a long-lived blocking sequence of changes.
type ChangeStream interface {
	// Next blocks until a change is available, ctx is done, or the stream is
	// closed.
	Next(ctx context.Context) (Change, error)
	// Close abandons the stream and unblocks pending Next calls.
	Close() error
}
