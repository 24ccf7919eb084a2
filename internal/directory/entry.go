package directory

import (
	"fmt"
	"slices"
	"strings"

	"certstore/pkg/platform/sentinel"
)

// Attributes holds multi-valued wire attributes. Names are case-insensitive and
// kept in lower case.
type Attributes map[string][]string

// Get returns the values of name, or nil.
func (a Attributes) Get(name string) []string {
	return a[strings.ToLower(name)]
}

// First returns the first value of name.
func (a Attributes) First(name string) (string, bool) {
	v := a.Get(name)
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Has reports whether name holds at least one value.
func (a Attributes) Has(name string) bool {
	return len(a.Get(name)) > 0
}

// Set replaces the values of name. Setting no values removes the attribute.
func (a Attributes) Set(name string, values ...string) {
	key := strings.ToLower(name)
	if len(values) == 0 {
		delete(a, key)
		return
	}
	a[key] = slices.Clone(values)
}

// Append adds values to name.
func (a Attributes) Append(name string, values ...string) {
	key := strings.ToLower(name)
	a[key] = append(a[key], values...)
}

// Delete removes name.
func (a Attributes) Delete(name string) {
	delete(a, strings.ToLower(name))
}

// Merge copies every attribute of other into a, replacing existing values.
func (a Attributes) Merge(other Attributes) {
	for k, v := range other {
		a.Set(k, v...)
	}
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = slices.Clone(v)
	}
	return out
}

// Project returns a copy limited to names. An empty names list keeps everything.
func (a Attributes) Project(names []string) Attributes {
	if len(names) == 0 {
		return a.Clone()
	}
	out := make(Attributes, len(names))
	for _, n := range names {
		if v := a.Get(n); len(v) > 0 {
			out[strings.ToLower(n)] = slices.Clone(v)
		}
	}
	return out
}

// Entry is a directory entry.
type Entry struct {
	DN    string
	Attrs Attributes
}

// ModOp is a modification operation.
type ModOp int

const (
	ModAdd ModOp = iota + 1
	ModReplace
	ModDelete
)

func (o ModOp) String() string {
	switch o {
	case ModAdd:
		return "add"
	case ModReplace:
		return "replace"
	case ModDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Modification changes one attribute.
//
// ModAdd fails when the attribute already holds a value. ModDelete with values
// removes exactly those values and fails if one is missing; without values it
// removes the attribute, failing if it is absent. ModReplace never fails.
//
// A non-empty Key narrows the modification to the values starting with Key, one
// keyed entry of a multi-valued attribute such as "owner:ops". ModAdd then fails
// only when a value with that key exists and appends otherwise, ModReplace swaps
// the keyed values for Values, and ModDelete without values removes the keyed
// values, failing if there are none.
type Modification struct {
	Op     ModOp
	Attr   string
	Key    string
	Values []string
}

// ApplyModifications returns a copy of attrs with mods applied in order. The
// input is never changed, so a failed call leaves no partial state.
func ApplyModifications(attrs Attributes, mods []Modification) (Attributes, error) {
	out := attrs.Clone()
	for _, m := range mods {
		if m.Key != "" {
			if err := applyKeyed(out, m); err != nil {
				return nil, err
			}
			continue
		}
		switch m.Op {
		case ModAdd:
			if out.Has(m.Attr) {
				return nil, fmt.Errorf("add %s: attribute already set: %w", m.Attr, sentinel.ErrConflictingUpdate)
			}
			out.Set(m.Attr, m.Values...)
		case ModReplace:
			out.Set(m.Attr, m.Values...)
		case ModDelete:
			current := out.Get(m.Attr)
			if len(current) == 0 {
				return nil, fmt.Errorf("delete %s: no such attribute: %w", m.Attr, sentinel.ErrConflictingUpdate)
			}
			if len(m.Values) == 0 {
				out.Delete(m.Attr)
				continue
			}
			remaining, err := removeValues(m.Attr, current, m.Values)
			if err != nil {
				return nil, err
			}
			out.Set(m.Attr, remaining...)
		default:
			return nil, fmt.Errorf("unknown modification op %d", m.Op)
		}
	}
	return out, nil
}

func applyKeyed(out Attributes, m Modification) error {
	current := out.Get(m.Attr)
	keyed := func(v string) bool { return strings.HasPrefix(v, m.Key) }
	switch m.Op {
	case ModAdd:
		if slices.ContainsFunc(current, keyed) {
			return fmt.Errorf("add %s %q: key already set: %w", m.Attr, m.Key, sentinel.ErrConflictingUpdate)
		}
		out.Set(m.Attr, append(slices.Clone(current), m.Values...)...)
	case ModReplace:
		out.Set(m.Attr, append(slices.DeleteFunc(slices.Clone(current), keyed), m.Values...)...)
	case ModDelete:
		if len(m.Values) > 0 {
			remaining, err := removeValues(m.Attr, current, m.Values)
			if err != nil {
				return err
			}
			out.Set(m.Attr, remaining...)
			return nil
		}
		if !slices.ContainsFunc(current, keyed) {
			return fmt.Errorf("delete %s %q: no such key: %w", m.Attr, m.Key, sentinel.ErrConflictingUpdate)
		}
		out.Set(m.Attr, slices.DeleteFunc(slices.Clone(current), keyed)...)
	default:
		return fmt.Errorf("unknown modification op %d", m.Op)
	}
	return nil
}

func removeValues(attr string, current, values []string) ([]string, error) {
	remaining := slices.Clone(current)
	for _, v := range values {
		idx := slices.Index(remaining, v)
		if idx < 0 {
			return nil, fmt.Errorf("delete %s: value %q not present: %w", attr, v, sentinel.ErrConflictingUpdate)
		}
		remaining = slices.Delete(remaining, idx, idx+1)
	}
	return remaining, nil
}

// InScope reports whether dn is base or lies beneath it. Comparison ignores case.
func InScope(dn, base string) bool {
	if base == "" {
		return true
	}
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return dn == base || strings.HasSuffix(dn, ","+base)
}

// SortValue returns the first value of attr, and whether one exists.
func SortValue(e Entry, attr string) (string, bool) {
	return e.Attrs.First(attr)
}

// CompareForSort orders entries by their sort value; entries without a value sort
// last; ties fall back to DN so the order is total.
func CompareForSort(a, b Entry, attr string) int {
	av, aok := SortValue(a, attr)
	bv, bok := SortValue(b, attr)
	switch {
	case aok && !bok:
		return -1
	case !aok && bok:
		return 1
	case aok && bok && av != bv:
		return strings.Compare(av, bv)
	}
	return strings.Compare(strings.ToLower(a.DN), strings.ToLower(b.DN))
}

// BeforeAnchor reports whether e sorts strictly before the anchor value.
func BeforeAnchor(e Entry, attr, anchor string) bool {
	v, ok := SortValue(e, attr)
	return ok && v < anchor
}
