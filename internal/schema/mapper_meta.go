package schema

import (
	"fmt"
	"strings"

	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// MetaInfoMapper stores models.MetaInfo as repeated "key:value" values.
type MetaInfoMapper struct {
	Attr string
}

func (m MetaInfoMapper) WireNames() []string { return []string{m.Attr} }

func (m MetaInfoMapper) Encode(v any) (directory.Attributes, error) {
	var meta models.MetaInfo
	switch t := v.(type) {
	case models.MetaInfo:
		meta = t
	case *models.MetaInfo:
		if t == nil {
			return nil, typeError("meta info", nil)
		}
		meta = *t
	default:
		return nil, typeError("meta info", v)
	}
	values := make([]string, 0, meta.Len())
	for _, k := range meta.Keys() {
		if strings.Contains(k, ":") || k == "" {
			return nil, fmt.Errorf("meta info mapper: invalid key %q: %w", k, sentinel.ErrSerialization)
		}
		val, _ := meta.Get(k)
		values = append(values, k+":"+val)
	}
	attrs := directory.Attributes{}
	attrs.Set(m.Attr, values...)
	return attrs, nil
}

// addDelta adds every key of the map as its own keyed value, failing on keys the
// record already has.
func (m MetaInfoMapper) addDelta(v any) ([]directory.Modification, error) {
	encoded, err := m.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode delta %s: %w", m.Attr, err)
	}
	values := encoded.Get(m.Attr)
	mods := make([]directory.Modification, 0, len(values))
	for _, token := range values {
		k, _, _ := strings.Cut(token, ":")
		mods = append(mods, directory.Modification{
			Op:     directory.ModAdd,
			Attr:   m.Attr,
			Key:    k + ":",
			Values: []string{token},
		})
	}
	return mods, nil
}

func (m MetaInfoMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	values := attrs.Get(m.Attr)
	if len(values) == 0 {
		return nil, false, nil
	}
	var meta models.MetaInfo
	for _, raw := range values {
		k, v, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, false, fmt.Errorf("meta info mapper: value %q has no key: %w", raw, sentinel.ErrSerialization)
		}
		meta.Set(k, v)
	}
	return meta, true, nil
}

func (m MetaInfoMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	if err := noSubField(name); err != nil {
		return nil, err
	}
	return leaf(m.Attr, op, value), nil
}

// MetaKeyMapper serves the dynamic field family "<Prefix>.<key>", addressing a
// single key inside a MetaInfo attribute.
type MetaKeyMapper struct {
	Prefix string
	Attr   string
}

// For implements DynamicMapper.
func (m MetaKeyMapper) For(name string) (Mapper, bool) {
	field, key := SplitField(name)
	if field != m.Prefix || key == "" || strings.Contains(key, ":") {
		return nil, false
	}
	return metaKey{attr: m.Attr, key: key}, true
}

type metaKey struct {
	attr string
	key  string
}

func (m metaKey) WireNames() []string { return []string{m.attr} }

func (m metaKey) Encode(v any) (directory.Attributes, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError("meta key", v)
	}
	return directory.Attributes{strings.ToLower(m.attr): {m.key + ":" + s}}, nil
}

func (m metaKey) delta(op directory.ModOp, v any) ([]directory.Modification, error) {
	mod := directory.Modification{Op: op, Attr: m.attr, Key: m.key + ":"}
	if v == nil {
		if op == directory.ModAdd {
			return nil, fmt.Errorf("encode delta %s: %w", m.key, typeError("meta key", nil))
		}
		return []directory.Modification{mod}, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("encode delta %s: %w", m.key, typeError("meta key", v))
	}
	mod.Values = []string{m.key + ":" + s}
	return []directory.Modification{mod}, nil
}

func (m metaKey) Decode(attrs directory.Attributes) (any, bool, error) {
	prefix := m.key + ":"
	for _, raw := range attrs.Get(m.attr) {
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix), true, nil
		}
	}
	return nil, false, nil
}

func (m metaKey) TranslateClause(_ string, op filter.Op, value string) (filter.Node, error) {
	switch op {
	case filter.OpEqual:
		return filter.Eq(m.attr, m.key+":"+value), nil
	case filter.OpPresent:
		return filter.Eq(m.attr, m.key+":*"), nil
	default:
		return nil, fmt.Errorf("%w: operator %s not supported on meta key %s", sentinel.ErrInvalidFilter, op, m.key)
	}
}
