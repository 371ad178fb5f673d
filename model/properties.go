package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Properties is an insertion-ordered map of property name to Value.
// A nil *Properties behaves as an empty read-only map.
type Properties struct {
	m *orderedmap.OrderedMap[string, Value]
}

// NewProperties creates an empty property map.
func NewProperties() *Properties {
	return &Properties{m: orderedmap.New[string, Value]()}
}

// PropertiesFromMap converts a plain map. Keys are inserted in iteration
// order of the input, which Go leaves unspecified.
func PropertiesFromMap(in map[string]interface{}) (*Properties, error) {
	p := NewProperties()
	for k, raw := range in {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		p.Set(k, v)
	}
	return p, nil
}

// Set stores v under name. An existing key keeps its position.
func (p *Properties) Set(name string, v Value) *Properties {
	p.m.Set(name, v)
	return p
}

// Get returns the value stored under name.
func (p *Properties) Get(name string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	return p.m.Get(name)
}

// Delete removes name and reports whether it was present.
func (p *Properties) Delete(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.m.Delete(name)
	return ok
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return p.m.Len()
}

// Keys returns the property names in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Range calls fn for every property in insertion order until fn returns false.
func (p *Properties) Range(fn func(name string, v Value) bool) {
	if p == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clone returns a copy that shares no map storage with p. Nested records are
// cloned as well.
func (p *Properties) Clone() *Properties {
	out := NewProperties()
	p.Range(func(name string, v Value) bool {
		if rec, ok := v.AsRecord(); ok {
			v = Record(rec.Clone())
		}
		out.Set(name, v)
		return true
	})
	return out
}

// Equal reports whether both maps hold equal values under the same keys.
// Key order is not compared.
func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	equal := true
	p.Range(func(name string, v Value) bool {
		ov, ok := o.Get(name)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// Map converts the properties into a plain map using Value.Interface.
func (p *Properties) Map() map[string]interface{} {
	out := make(map[string]interface{}, p.Len())
	p.Range(func(name string, v Value) bool {
		out[name] = v.Interface()
		return true
	})
	return out
}

// MarshalJSON writes the properties as a JSON object in insertion order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	first := true
	p.Range(func(name string, v Value) bool {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		var key, val []byte
		if key, err = json.Marshal(name); err != nil {
			return false
		}
		if val, err = v.MarshalJSON(); err != nil {
			err = fmt.Errorf("property %q: %w", name, err)
			return false
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the key order of the document.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties must be a JSON object")
	}

	if p.m == nil {
		p.m = orderedmap.New[string, Value]()
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in properties object", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		p.m.Set(name, v)
	}
	_, err = dec.Token()
	return err
}
