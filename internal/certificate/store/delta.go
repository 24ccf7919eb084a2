package store

import "certstore/internal/directory"

// Delta is one logical change to a record field.
type Delta struct {
	Field string
	Op    directory.ModOp
	Value any
}

// Add sets a field that must not hold a value yet.
func Add(field string, v any) Delta {
	return Delta{Field: field, Op: directory.ModAdd, Value: v}
}

// Replace overwrites a field. A nil value clears it.
func Replace(field string, v any) Delta {
	return Delta{Field: field, Op: directory.ModReplace, Value: v}
}

// Remove deletes exactly v from a field, or the whole field when v is nil.
func Remove(field string, v any) Delta {
	return Delta{Field: field, Op: directory.ModDelete, Value: v}
}
