package store

import (
	"context"
	"errors"
	"fmt"

	"certstore/internal/certificate/models"
	"certstore/internal/directory"
)

// Change is a decoded change notification for a certificate record.
type Change struct {
	ID     string
	Type   directory.ChangeType
	DN     string
	Record *models.CertificateRecord
}

// ErrUndecodable marks a change whose entry could not be decoded. The stream
// itself stays usable.
var ErrUndecodable = errors.New("undecodable change")

// Changes is a change stream over the records under the store base. It holds a
// directory session until Close.
type Changes struct {
	store  *Store
	sess   directory.Session
	stream directory.ChangeStream
}

// Watch opens a change stream for records matching a logical filter.
func (s *Store) Watch(ctx context.Context, filterText string) (*Changes, error) {
	text, err := s.compile(filterText)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	sess, err := s.dir.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch: open directory session: %w", err)
	}
	stream, err := sess.OpenChangeStream(ctx, s.baseDN, text)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("watch: %w", err)
	}
	return &Changes{store: s, sess: sess, stream: stream}, nil
}

// Next blocks for the next change. Decode failures are reported wrapping
// ErrUndecodable together with the change metadata.
func (c *Changes) Next(ctx context.Context) (Change, error) {
	raw, err := c.stream.Next(ctx)
	if err != nil {
		return Change{}, err
	}
	ch := Change{ID: raw.ID, Type: raw.Type, DN: raw.Entry.DN}
	rec, err := c.store.decode(raw.Entry)
	if err != nil {
		return ch, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	ch.Record = rec
	return ch, nil
}

// Close abandons the stream and releases its session.
func (c *Changes) Close() error {
	serr := c.stream.Close()
	cerr := c.sess.Close()
	if serr != nil {
		return serr
	}
	return cerr
}
