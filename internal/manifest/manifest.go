package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Manifest is an insertion-ordered map from manifest key to upload
// metadata. Setting an existing key replaces its value and keeps its
// position, so merging an old manifest with a new one lists old keys first.
type Manifest struct {
	keys   []string
	values map[string]any
}

func NewManifest() *Manifest {
	return &Manifest{values: make(map[string]any)}
}

func (m *Manifest) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Manifest) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Manifest) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *Manifest) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Merge overlays other on m; values from other win.
func (m *Manifest) Merge(other *Manifest) {
	for _, k := range other.keys {
		m.Set(k, other.values[k])
	}
}

// MarshalJSON encodes the manifest as a compact object in key order. HTML
// characters are left unescaped so URLs survive byte for byte.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encode(&buf, m.values[k]); err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Indent returns the manifest as JSON indented with two spaces.
func (m *Manifest) Indent() ([]byte, error) {
	compact, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the order of its keys. Values
// are kept as raw JSON.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("manifest: expected object, got %v", tok)
	}

	parsed := NewManifest()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("manifest: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("manifest: value of %q: %w", key, err)
		}
		parsed.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("manifest: trailing data")
	}

	*m = *parsed
	return nil
}

func encode(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}
