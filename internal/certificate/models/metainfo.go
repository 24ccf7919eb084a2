package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// MetaInfo is an insertion-ordered string map of free-form certificate metadata.
// The zero value is empty and ready to use.
type MetaInfo struct {
	keys   []string
	values map[string]string
}

// NewMetaInfo builds a MetaInfo from alternating key, value pairs.
func NewMetaInfo(pairs ...string) MetaInfo {
	var m MetaInfo
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set stores value under key. A new key is appended; an existing key keeps its
// position.
func (m *MetaInfo) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m MetaInfo) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key.
func (m *MetaInfo) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
}

// Keys returns the keys in insertion order.
func (m MetaInfo) Keys() []string {
	return slices.Clone(m.keys)
}

func (m MetaInfo) Len() int {
	return len(m.keys)
}

// Clone returns an independent copy.
func (m MetaInfo) Clone() MetaInfo {
	var out MetaInfo
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// MarshalJSON renders the map as a JSON object in insertion order.
func (m MetaInfo) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON reads a JSON object of strings, keeping document order.
func (m *MetaInfo) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = MetaInfo{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("meta info must be a JSON object")
	}
	var out MetaInfo
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("meta info %q: %w", key, err)
		}
		out.Set(key, value)
	}
	*m = out
	return nil
}
