// Package model contains the domain types shared by the cloudbackend services:
// entity values and properties, queries and filters, messages and subscriptions.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	// KindNull is the zero Value.
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindRecord
	KindList
)

// String returns the lower-case name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindRecord:
		return "record"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// timeKey marks a JSON object that carries a timestamp.
const timeKey = "$time"

// Value is a tagged union of the property types an entity can carry.
// The zero Value is null.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	rec  *Properties
	list []Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp Value. The time is normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Record returns a nested record Value. A nil record is stored as an empty one.
func Record(p *Properties) Value {
	if p == nil {
		p = NewProperties()
	}
	return Value{kind: KindRecord, rec: p}
}

// List returns a list Value.
func List(values ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), values...)}
}

// Kind reports the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v as a float. Integers are promoted.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp held by v.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsRecord returns the nested record held by v.
func (v Value) AsRecord() (*Properties, bool) { return v.rec, v.kind == KindRecord }

// AsList returns the list held by v.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// Interface converts v into plain Go values: nil, string, int64, float64,
// bool, time.Time, map[string]interface{} and []interface{}.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindRecord:
		return v.rec.Map()
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// ValueOf converts a plain Go value into a Value.
// Supported inputs mirror the outputs of Value.Interface plus the common
// integer and float widths.
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return Time(t), nil
	case *Properties:
		return Record(t), nil
	case map[string]interface{}:
		p, err := PropertiesFromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Record(p), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, raw := range t {
			item, err := ValueOf(raw)
			if err != nil {
				return Value{}, fmt.Errorf("list item %d: %w", i, err)
			}
			items[i] = item
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", x)
	}
}

// Equal reports whether v and o hold the same variant and content.
// An int and a float with the same numeric value are equal.
func (v Value) Equal(o Value) bool {
	if c, ok := Compare(v, o); ok {
		return c == 0
	}
	switch {
	case v.kind != o.kind:
		return false
	case v.kind == KindNull:
		return true
	case v.kind == KindRecord:
		return v.rec.Equal(o.rec)
	case v.kind == KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two scalar values of compatible kinds. It returns -1, 0 or 1
// and false when the values cannot be ordered against each other.
func Compare(a, b Value) (int, bool) {
	if af, ok := a.AsFloat(); ok {
		bf, ok := b.AsFloat()
		if !ok {
			return 0, false
		}
		if a.kind == KindInt && b.kind == KindInt {
			return compareOrdered(a.i, b.i), true
		}
		return compareOrdered(af, bf), true
	}
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindTime:
		return a.t.Compare(b.t), true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	default:
		return 0, false
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders v for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// MarshalJSON encodes scalars as JSON scalars, records as objects, lists as
// arrays and timestamps as {"$time": "<RFC3339Nano>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(map[string]string{timeKey: v.t.Format(time.RFC3339Nano)})
	case KindRecord:
		return v.rec.MarshalJSON()
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
	}
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON. Numbers without
// a fraction or exponent decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = List(items...)
		return nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		if raw, ok := fields[timeKey]; ok && len(fields) == 1 {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("invalid %s value: %w", timeKey, err)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("invalid %s value: %w", timeKey, err)
			}
			*v = Time(t)
			return nil
		}
		p := NewProperties()
		if err := p.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Record(p)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		if !strings.ContainsAny(n.String(), ".eE") {
			if i, err := n.Int64(); err == nil {
				*v = Int(i)
				return nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*v = Float(f)
		return nil
	}
}
