package schema

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// Mapper converts one logical field to and from its wire attributes and rewrites
// filter clauses over the field.
type Mapper interface {
	// WireNames lists every wire attribute the mapper reads or writes.
	WireNames() []string
	// Encode renders a non-nil field value. nil or a value of the wrong type fails
	// with sentinel.ErrSerialization.
	Encode(v any) (directory.Attributes, error)
	// Decode rebuilds the field value. ok is false when none of the mapper's wire
	// attributes are present.
	Decode(attrs directory.Attributes) (v any, ok bool, err error)
	// TranslateClause rewrites a clause on name, which is the field name optionally
	// followed by a dotted sub-field suffix.
	TranslateClause(name string, op filter.Op, value string) (filter.Node, error)
}

// DynamicMapper serves a family of field names, such as "meta.<key>", that cannot
// be enumerated when the schema is built.
type DynamicMapper interface {
	// For returns a mapper bound to name, and false if name is outside the family.
	For(name string) (Mapper, bool)
}

// SplitField separates "field.sub" into its field and sub-field parts.
func SplitField(name string) (field, sub string) {
	field, sub, _ = strings.Cut(name, ".")
	return field, sub
}

func typeError(mapper string, v any) error {
	if v == nil {
		return fmt.Errorf("%s mapper: nil value: %w", mapper, sentinel.ErrSerialization)
	}
	return fmt.Errorf("%s mapper: unsupported value type %T: %w", mapper, v, sentinel.ErrSerialization)
}

func noSubField(name string) error {
	if _, sub := SplitField(name); sub != "" {
		return fmt.Errorf("%w: %s has no sub-field %q", sentinel.ErrInvalidFilter, name, sub)
	}
	return nil
}

func leaf(attr string, op filter.Op, value string) filter.Node {
	if op == filter.OpPresent {
		return filter.Present(attr)
	}
	return &filter.Leaf{Attr: attr, Op: op, Value: value}
}

// StringMapper stores a string in a single-valued attribute.
type StringMapper struct {
	Attr string
}

func (m StringMapper) WireNames() []string { return []string{m.Attr} }

func (m StringMapper) Encode(v any) (directory.Attributes, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError("string", v)
	}
	if s == "" {
		return nil, fmt.Errorf("string mapper: empty value for %s: %w", m.Attr, sentinel.ErrSerialization)
	}
	return directory.Attributes{strings.ToLower(m.Attr): {s}}, nil
}

func (m StringMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	s, ok := attrs.First(m.Attr)
	if !ok {
		return nil, false, nil
	}
	return s, true, nil
}

func (m StringMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	if err := noSubField(name); err != nil {
		return nil, err
	}
	return leaf(m.Attr, op, value), nil
}

// StringListMapper stores a string slice as a multi-valued attribute.
type StringListMapper struct {
	Attr string
}

func (m StringListMapper) WireNames() []string { return []string{m.Attr} }

func (m StringListMapper) Encode(v any) (directory.Attributes, error) {
	list, ok := v.([]string)
	if !ok {
		return nil, typeError("string list", v)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("string list mapper: empty list for %s: %w", m.Attr, sentinel.ErrSerialization)
	}
	attrs := directory.Attributes{}
	attrs.Set(m.Attr, list...)
	return attrs, nil
}

func (m StringListMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	values := attrs.Get(m.Attr)
	if len(values) == 0 {
		return nil, false, nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out, true, nil
}

func (m StringListMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	if err := noSubField(name); err != nil {
		return nil, err
	}
	return leaf(m.Attr, op, value), nil
}

// IntegerMapper stores a non-negative int64 in the length-prefixed integer form.
type IntegerMapper struct {
	Attr string
}

func (m IntegerMapper) WireNames() []string { return []string{m.Attr} }

func (m IntegerMapper) Encode(v any) (directory.Attributes, error) {
	var n int64
	switch t := v.(type) {
	case int64:
		n = t
	case int:
		n = int64(t)
	default:
		return nil, typeError("integer", v)
	}
	s, err := EncodeInt64(n)
	if err != nil {
		return nil, err
	}
	return directory.Attributes{strings.ToLower(m.Attr): {s}}, nil
}

func (m IntegerMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	s, ok := attrs.First(m.Attr)
	if !ok {
		return nil, false, nil
	}
	n, err := DecodeInt64(s)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (m IntegerMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	if err := noSubField(name); err != nil {
		return nil, err
	}
	if op == filter.OpPresent {
		return filter.Present(m.Attr), nil
	}
	n, err := ParseBigInt(value)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeBigInt(n)
	if err != nil {
		return nil, err
	}
	return leaf(m.Attr, op, encoded), nil
}

// BigIntegerMapper stores an arbitrary precision non-negative integer in the
// length-prefixed integer form.
type BigIntegerMapper struct {
	Attr string
}

func (m BigIntegerMapper) WireNames() []string { return []string{m.Attr} }

func (m BigIntegerMapper) Encode(v any) (directory.Attributes, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, typeError("big integer", v)
	}
	s, err := EncodeBigInt(n)
	if err != nil {
		return nil, err
	}
	return directory.Attributes{strings.ToLower(m.Attr): {s}}, nil
}

func (m BigIntegerMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	s, ok := attrs.First(m.Attr)
	if !ok {
		return nil, false, nil
	}
	n, err := DecodeBigInt(s)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (m BigIntegerMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	return IntegerMapper(m).TranslateClause(name, op, value)
}

// DateMapper stores an instant in DateLayout.
type DateMapper struct {
	Attr string
}

func (m DateMapper) WireNames() []string { return []string{m.Attr} }

func (m DateMapper) Encode(v any) (directory.Attributes, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, typeError("date", v)
	}
	s, err := EncodeDate(t)
	if err != nil {
		return nil, err
	}
	return directory.Attributes{strings.ToLower(m.Attr): {s}}, nil
}

func (m DateMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	s, ok := attrs.First(m.Attr)
	if !ok {
		return nil, false, nil
	}
	t, err := DecodeDate(s)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (m DateMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	if err := noSubField(name); err != nil {
		return nil, err
	}
	return DateClause(m.Attr, op, value)
}

// DateClause builds a clause over a date attribute from a user supplied value.
func DateClause(attr string, op filter.Op, value string) (filter.Node, error) {
	if op == filter.OpPresent {
		return filter.Present(attr), nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeDate(t)
	if err != nil {
		return nil, err
	}
	return leaf(attr, op, encoded), nil
}
