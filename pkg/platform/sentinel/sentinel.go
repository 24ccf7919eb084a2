package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, mappers and directory backends
// return these (optionally wrapped) so callers can branch with errors.Is.
//
// These represent factual states, not transport concerns:
// - ErrSchema: record type or field has no registered mapping
// - ErrSerialization: value cannot be encoded or decoded by its mapper
// - ErrDuplicateKey: an entry already exists at the target key
// - ErrNotFound: entry does not exist in the directory
// - ErrInvalidFilter: filter text cannot be parsed or translated
// - ErrConflictingUpdate: modification conflicts with stored attribute values
// - ErrInvalidState: record in wrong state for requested operation
// - ErrUnavailable: backend temporarily unavailable
var (
	ErrSchema            = errors.New("schema error")
	ErrSerialization     = errors.New("serialization error")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrNotFound          = errors.New("not found")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrConflictingUpdate = errors.New("conflicting update")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnavailable       = errors.New("unavailable")
)
