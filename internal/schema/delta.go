package schema

import (
	"fmt"
	"slices"

	"certstore/internal/directory"
)

// EncodeDelta turns one logical field change into directory modifications.
//
// For ModReplace every wire attribute of the mapper is replaced, so attributes the
// new value does not produce are cleared; a nil value clears them all. ModAdd adds
// the encoded attributes. ModDelete removes the encoded values, or every wire
// attribute of the field when value is nil.
//
// Meta info edits are keyed: a single "meta.<key>" field only touches its own
// "key:value" token, and adding a whole MetaInfo adds key by key, so the other
// keys of the record are kept.
func (r *Registry) EncodeDelta(field string, op directory.ModOp, value any) ([]directory.Modification, error) {
	m, err := r.Mapper(field)
	if err != nil {
		return nil, err
	}
	switch km := m.(type) {
	case metaKey:
		return km.delta(op, value)
	case MetaInfoMapper:
		if op == directory.ModAdd && value != nil {
			return km.addDelta(value)
		}
	}
	if value == nil {
		switch op {
		case directory.ModReplace, directory.ModDelete:
			mods := make([]directory.Modification, 0, len(m.WireNames()))
			for _, w := range m.WireNames() {
				mods = append(mods, directory.Modification{Op: op, Attr: w})
			}
			return mods, nil
		default:
			return nil, fmt.Errorf("encode delta %s: %w", field, typeError(field, nil))
		}
	}

	encoded, err := m.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("encode delta %s: %w", field, err)
	}
	var mods []directory.Modification
	for _, w := range m.WireNames() {
		values := encoded.Get(w)
		if len(values) == 0 {
			if op == directory.ModReplace {
				mods = append(mods, directory.Modification{Op: op, Attr: w})
			}
			continue
		}
		mods = append(mods, directory.Modification{Op: op, Attr: w, Values: slices.Clone(values)})
	}
	return mods, nil
}
