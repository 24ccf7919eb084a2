package store

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"certstore/internal/certificate/models"
	"certstore/internal/schema"
)

// Iterator walks a search forward, one record at a time. It is not restartable.
//
//	it, err := st.ValidCertificates(ctx, nil, nil)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next(ctx) {
//		rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	window *Window
	pos    int
	rec    *models.CertificateRecord
	err    error
	closed bool
}

// Next advances to the next record. It returns false at the end of the results
// or on error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	rec, ok, err := it.window.ElementAt(ctx, it.pos)
	if err != nil {
		it.err = err
		return false
	}
	if !ok {
		it.rec = nil
		return false
	}
	it.pos++
	it.rec = rec
	return true
}

// Record returns the current record.
func (it *Iterator) Record() *models.CertificateRecord { return it.rec }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Total is the number of records the underlying search matched.
func (it *Iterator) Total() int { return it.window.TotalSize() }

// Close releases the iterator. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.window.Close()
}

// Iterate walks every record matching filterText in ascending sortKey order.
func (s *Store) Iterate(ctx context.Context, filterText, sortKey string) (*Iterator, error) {
	w, err := s.Search(ctx, SearchRequest{
		Filter:   filterText,
		SortKey:  sortKey,
		PageSize: s.pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &Iterator{window: w}, nil
}

// ValidCertificates walks VALID records with serials in [from, to]. Nil bounds
// are open.
func (s *Store) ValidCertificates(ctx context.Context, from, to *big.Int) (*Iterator, error) {
	return s.Iterate(ctx, statusFilter(models.StatusValid, from, to), models.FieldSerialNumber)
}

// ExpiredCertificates walks EXPIRED records with serials in [from, to].
func (s *Store) ExpiredCertificates(ctx context.Context, from, to *big.Int) (*Iterator, error) {
	return s.Iterate(ctx, statusFilter(models.StatusExpired, from, to), models.FieldSerialNumber)
}

// RevokedCertificates walks REVOKED records with serials in [from, to]. Revoked
// certificates that have since expired are not included.
func (s *Store) RevokedCertificates(ctx context.Context, from, to *big.Int) (*Iterator, error) {
	return s.Iterate(ctx, statusFilter(models.StatusRevoked, from, to), models.FieldSerialNumber)
}

// ValidNotPublished walks VALID records in [from, to] not yet marked published.
func (s *Store) ValidNotPublished(ctx context.Context, from, to *big.Int) (*Iterator, error) {
	return s.Iterate(ctx, notPublished(statusFilter(models.StatusValid, from, to)), models.FieldSerialNumber)
}

// RevokedNotPublished walks REVOKED records in [from, to] not yet marked
// published.
func (s *Store) RevokedNotPublished(ctx context.Context, from, to *big.Int) (*Iterator, error) {
	return s.Iterate(ctx, notPublished(statusFilter(models.StatusRevoked, from, to)), models.FieldSerialNumber)
}

// NotYetValidCertificates walks INVALID records whose validity starts after asOf,
// earliest first.
func (s *Store) NotYetValidCertificates(ctx context.Context, asOf time.Time) (*Iterator, error) {
	f := fmt.Sprintf("(&(%s=%s)(!(%s<=%s)))",
		models.FieldStatus, models.StatusInvalid,
		models.FieldNotBefore, formatTime(asOf))
	return s.Iterate(ctx, f, models.FieldNotBefore)
}

// ExpiringBetween walks VALID records whose validity ends in [from, to), earliest
// first.
func (s *Store) ExpiringBetween(ctx context.Context, from, to time.Time) (*Iterator, error) {
	f := fmt.Sprintf("(&(%s=%s)(%s>=%s)(!(%s>=%s)))",
		models.FieldStatus, models.StatusValid,
		models.FieldNotAfter, formatTime(from),
		models.FieldNotAfter, formatTime(to))
	return s.Iterate(ctx, f, models.FieldNotAfter)
}

// PublishedMetaKey is the meta info key that marks a record as published.
const PublishedMetaKey = "published"

func statusFilter(status models.Status, from, to *big.Int) string {
	clauses := []string{fmt.Sprintf("(%s=%s)", models.FieldStatus, status)}
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("(%s>=%s)", models.FieldSerialNumber, from))
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("(%s<=%s)", models.FieldSerialNumber, to))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return "(&" + strings.Join(clauses, "") + ")"
}

func notPublished(f string) string {
	return fmt.Sprintf("(&%s(!(%s.%s=true)))", f, schema.MetaKeyPrefix, PublishedMetaKey)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
