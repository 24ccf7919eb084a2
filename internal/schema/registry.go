// Package schema maps logical record types onto directory entries. A Registry is
// assembled once through a Builder and is read-only afterwards, so it can be shared
// by every goroutine of the process without locking.
package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// ObjectClassAttr is the wire attribute listing an entry's object classes.
const ObjectClassAttr = "objectClass"

// Record is a logical record the registry can encode. Field returns nil for unset
// fields; SetField receives the value a Mapper decoded.
type Record interface {
	RecordType() string
	Field(name string) any
	SetField(name string, v any) error
}

// RecordType describes a registered logical type.
type RecordType struct {
	Name    string
	Classes []string
	// Fields lists the logical fields persisted for the type, in encode order.
	Fields []string
	// New constructs an empty record for decoding.
	New func() Record
}

// Builder collects registrations. It is not safe for concurrent use.
type Builder struct {
	types   []RecordType
	mappers map[string]Mapper
	dynamic []DynamicMapper
	errs    []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{mappers: make(map[string]Mapper)}
}

// Register adds a record type.
func (b *Builder) Register(rt RecordType) *Builder {
	switch {
	case rt.Name == "":
		b.errs = append(b.errs, errors.New("record type without a name"))
	case len(rt.Classes) == 0:
		b.errs = append(b.errs, fmt.Errorf("record type %s: no object classes", rt.Name))
	case rt.New == nil:
		b.errs = append(b.errs, fmt.Errorf("record type %s: no constructor", rt.Name))
	default:
		b.types = append(b.types, rt)
	}
	return b
}

// RegisterAttribute binds a logical field name to a mapper.
func (b *Builder) RegisterAttribute(field string, m Mapper) *Builder {
	if _, dup := b.mappers[field]; dup {
		b.errs = append(b.errs, fmt.Errorf("attribute %s registered twice", field))
		return b
	}
	b.mappers[field] = m
	return b
}

// RegisterDynamicMapper adds a mapper family. Families are consulted in
// registration order after exact field names.
func (b *Builder) RegisterDynamicMapper(m DynamicMapper) *Builder {
	b.dynamic = append(b.dynamic, m)
	return b
}

// Build freezes the registrations.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", sentinel.ErrSchema, errors.Join(b.errs...))
	}
	r := &Registry{
		byName:      make(map[string]RecordType, len(b.types)),
		bySignature: make(map[string]RecordType, len(b.types)),
		mappers:     make(map[string]Mapper, len(b.mappers)),
		dynamic:     slices.Clone(b.dynamic),
	}
	for _, rt := range b.types {
		rt.Classes = slices.Clone(rt.Classes)
		rt.Fields = slices.Clone(rt.Fields)
		sig := signature(rt.Classes)
		if _, dup := r.bySignature[sig]; dup {
			return nil, fmt.Errorf("%w: object classes of %s already registered", sentinel.ErrSchema, rt.Name)
		}
		if _, dup := r.byName[rt.Name]; dup {
			return nil, fmt.Errorf("%w: record type %s registered twice", sentinel.ErrSchema, rt.Name)
		}
		r.byName[rt.Name] = rt
		r.bySignature[sig] = rt
	}
	for k, m := range b.mappers {
		r.mappers[k] = m
	}
	return r, nil
}

// signature is the canonical form of a class set: lower-cased names sorted and
// concatenated.
func signature(classes []string) string {
	lower := make([]string, len(classes))
	for i, c := range classes {
		lower[i] = strings.ToLower(c)
	}
	slices.Sort(lower)
	return strings.Join(lower, "")
}

// Registry is an immutable schema.
type Registry struct {
	byName      map[string]RecordType
	bySignature map[string]RecordType
	mappers     map[string]Mapper
	dynamic     []DynamicMapper
}

// RecordType returns the registered type called name.
func (r *Registry) RecordType(name string) (RecordType, error) {
	rt, ok := r.byName[name]
	if !ok {
		return RecordType{}, fmt.Errorf("%w: unknown record type %s", sentinel.ErrSchema, name)
	}
	return rt, nil
}

// Mapper resolves a logical attribute name. Exact names are tried first, then the
// part before the first dot, then each dynamic family in registration order.
func (r *Registry) Mapper(name string) (Mapper, error) {
	if m, ok := r.mappers[name]; ok {
		return m, nil
	}
	if field, sub := SplitField(name); sub != "" {
		if m, ok := r.mappers[field]; ok {
			return m, nil
		}
	}
	for _, d := range r.dynamic {
		if m, ok := d.For(name); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: no mapper for attribute %s", sentinel.ErrSchema, name)
}

// EncodeRecord renders every non-nil field of rec plus the object classes of its
// type.
func (r *Registry) EncodeRecord(rec Record) (directory.Attributes, error) {
	rt, err := r.RecordType(rec.RecordType())
	if err != nil {
		return nil, err
	}
	attrs := directory.Attributes{}
	attrs.Set(ObjectClassAttr, rt.Classes...)
	for _, field := range rt.Fields {
		v := rec.Field(field)
		if v == nil {
			continue
		}
		m, err := r.Mapper(field)
		if err != nil {
			return nil, err
		}
		encoded, err := m.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		for k, values := range encoded {
			attrs.Append(k, values...)
		}
	}
	return attrs, nil
}

// DecodeRecord identifies the record type from the object classes in attrs and
// decodes every field the type declares.
func (r *Registry) DecodeRecord(attrs directory.Attributes) (Record, error) {
	classes := attrs.Get(ObjectClassAttr)
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: entry has no object classes", sentinel.ErrSchema)
	}
	rt, ok := r.bySignature[signature(classes)]
	if !ok {
		return nil, fmt.Errorf("%w: no record type for object classes %v", sentinel.ErrSchema, classes)
	}
	rec := rt.New()
	for _, field := range rt.Fields {
		m, err := r.Mapper(field)
		if err != nil {
			return nil, err
		}
		v, present, err := m.Decode(attrs)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		if !present {
			continue
		}
		if err := rec.SetField(field, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
	}
	return rec, nil
}

// ResolveProjection maps logical field names onto the wire attributes needed to
// decode them. objectClass is always included. An empty list yields nil, which
// backends read as all attributes.
func (r *Registry) ResolveProjection(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	seen := map[string]bool{strings.ToLower(ObjectClassAttr): true}
	out := []string{ObjectClassAttr}
	for _, field := range fields {
		m, err := r.Mapper(field)
		if err != nil {
			return nil, err
		}
		for _, w := range m.WireNames() {
			if k := strings.ToLower(w); !seen[k] {
				seen[k] = true
				out = append(out, w)
			}
		}
	}
	return out, nil
}

// TranslateClause implements filter.Resolver.
func (r *Registry) TranslateClause(attr string, op filter.Op, value string) (filter.Node, error) {
	m, err := r.Mapper(attr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sentinel.ErrInvalidFilter, err)
	}
	return m.TranslateClause(attr, op, value)
}

// ObjectClassClause implements filter.Resolver.
func (r *Registry) ObjectClassClause(recordType string) (filter.Node, error) {
	rt, ok := r.byName[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %s", sentinel.ErrInvalidFilter, recordType)
	}
	clauses := make([]filter.Node, 0, len(rt.Classes))
	for _, c := range rt.Classes {
		clauses = append(clauses, filter.Eq(ObjectClassAttr, c))
	}
	return filter.OrOf(clauses...), nil
}

// SortAttribute returns the wire attribute a logical sort key orders by.
func (r *Registry) SortAttribute(sortKey string) (string, error) {
	n, err := r.TranslateClause(sortKey, filter.OpPresent, "")
	if err != nil {
		return "", err
	}
	l, ok := n.(*filter.Leaf)
	if !ok {
		return "", fmt.Errorf("%w: %s cannot be used as a sort key", sentinel.ErrInvalidFilter, sortKey)
	}
	return l.Attr, nil
}

// EncodeAnchor converts a logical anchor value for sortKey into its wire form by
// translating the clause sortKey>=anchor.
func (r *Registry) EncodeAnchor(sortKey, anchor string) (string, error) {
	n, err := r.TranslateClause(sortKey, filter.OpGreaterOrEqual, anchor)
	if err != nil {
		return "", err
	}
	l, ok := n.(*filter.Leaf)
	if !ok || l.Op != filter.OpGreaterOrEqual {
		return "", fmt.Errorf("%w: %s cannot be used as a sort key", sentinel.ErrInvalidFilter, sortKey)
	}
	return l.Value, nil
}
