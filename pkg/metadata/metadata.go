package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Metadata is an ordered string-keyed map of tagged values. The zero value is ready to use.
// A Metadata is not safe for concurrent mutation; the pipeline hands each call its own clone.
type Metadata struct {
	entries *orderedmap.OrderedMap[string, Value]
}

// New returns an empty Metadata.
func New() *Metadata {
	return &Metadata{entries: orderedmap.New[string, Value]()}
}

func (m *Metadata) ensure() {
	if m.entries == nil {
		m.entries = orderedmap.New[string, Value]()
	}
}

// Insert sets key to v and returns m so inserts can be chained.
func (m *Metadata) Insert(key string, v Value) *Metadata {
	m.ensure()
	m.entries.Set(key, v)
	return m
}

// Lookup returns the raw value stored under key.
func (m *Metadata) Lookup(key string) (Value, bool) {
	if m == nil || m.entries == nil {
		return Value{}, false
	}
	return m.entries.Get(key)
}

func (m *Metadata) Has(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (m *Metadata) Delete(key string) bool {
	if m == nil || m.entries == nil {
		return false
	}
	_, ok := m.entries.Delete(key)
	return ok
}

func (m *Metadata) Len() int {
	if m == nil || m.entries == nil {
		return 0
	}
	return m.entries.Len()
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	keys := make([]string, 0, m.Len())
	m.Range(func(key string, _ Value) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Metadata) Range(fn func(key string, v Value) bool) {
	if m == nil || m.entries == nil {
		return
	}
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Merge copies every entry of other into m, overwriting keys m already has. Keys new to m are
// appended in other's order.
func (m *Metadata) Merge(other *Metadata) *Metadata {
	m.ensure()
	other.Range(func(key string, v Value) bool {
		m.entries.Set(key, v.clone())
		return true
	})
	return m
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	out := New()
	m.Range(func(key string, v Value) bool {
		out.entries.Set(key, v.clone())
		return true
	})
	return out
}

// Equal reports whether both maps hold equal values under the same keys in the same order.
func (m *Metadata) Equal(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	a, b := m.Keys(), other.Keys()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
		va, _ := m.Lookup(a[i])
		vb, _ := other.Lookup(b[i])
		if !va.Equal(vb) {
			return false
		}
	}
	return true
}

// Get reads key as T, where T is one of bool, int64, float64, string, *Metadata or []Value.
func Get[T any](m *Metadata, key string) (T, error) {
	var zero T
	v, ok := m.Lookup(key)
	if !ok {
		return zero, &MissingKeyError{Key: key}
	}
	out, ok := v.native().(T)
	if !ok {
		return zero, &TypeMismatchError{Key: key, Expected: fmt.Sprintf("%T", zero), Actual: v.kind}
	}
	return out, nil
}

func (m *Metadata) get(key string) (Value, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return Value{}, &MissingKeyError{Key: key}
	}
	return v, nil
}

// withKey stamps the key onto a mismatch raised by a Value accessor.
func withKey(key string, err error) error {
	if mismatch, ok := err.(*TypeMismatchError); ok {
		mismatch.Key = key
	}
	return err
}

func (m *Metadata) GetBool(key string) (bool, error) {
	v, err := m.get(key)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	return b, withKey(key, err)
}

func (m *Metadata) GetInt(key string) (int64, error) {
	v, err := m.get(key)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	return i, withKey(key, err)
}

func (m *Metadata) GetFloat(key string) (float64, error) {
	v, err := m.get(key)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat()
	return f, withKey(key, err)
}

// GetNumber reads an Int or Float value as float64.
func (m *Metadata) GetNumber(key string) (float64, error) {
	v, err := m.get(key)
	if err != nil {
		return 0, err
	}
	f, err := v.AsNumber()
	return f, withKey(key, err)
}

func (m *Metadata) GetString(key string) (string, error) {
	v, err := m.get(key)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	return s, withKey(key, err)
}

func (m *Metadata) GetMetadata(key string) (*Metadata, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, err
	}
	nested, err := v.AsMetadata()
	return nested, withKey(key, err)
}

func (m *Metadata) GetList(key string) ([]Value, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, err
	}
	list, err := v.AsList()
	return list, withKey(key, err)
}

// ToMap converts m into a plain map, losing key order.
func (m *Metadata) ToMap() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(key string, v Value) bool {
		out[key] = v.Interface()
		return true
	})
	return out
}

// FromMap builds a Metadata from decoded Go values. Keys are inserted in sorted order.
func FromMap(values map[string]any) (*Metadata, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := New()
	for _, key := range keys {
		v, err := ValueOf(values[key])
		if err != nil {
			return nil, fmt.Errorf("metadata: key %q: %w", key, err)
		}
		out.Insert(key, v)
	}
	return out, nil
}

// ValueOf converts a Go value into a Value.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case *Metadata:
		return Nested(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		var v Value
		if err := v.unmarshalNumber(x.String()); err != nil {
			return Value{}, err
		}
		return v, nil
	case string:
		return String(x), nil
	case map[string]any:
		nested, err := FromMap(x)
		if err != nil {
			return Value{}, err
		}
		return Nested(nested), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// FromJSON decodes a JSON object, keeping its key order.
func FromJSON(data []byte) (*Metadata, error) {
	m := New()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metadata) MarshalJSON() ([]byte, error) {
	if m == nil || m.entries == nil || m.entries.Len() == 0 {
		return []byte("{}"), nil
	}
	return m.entries.MarshalJSON()
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	m.entries = orderedmap.New[string, Value]()
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("metadata: expected JSON object")
	}
	return m.entries.UnmarshalJSON(trimmed)
}

// MarshalZerologObject lets a Metadata be logged with zerolog's Object field.
func (m *Metadata) MarshalZerologObject(e *zerolog.Event) {
	m.Range(func(key string, v Value) bool {
		switch v.kind {
		case KindNull:
			e.Interface(key, nil)
		case KindBool:
			e.Bool(key, v.b)
		case KindInt:
			e.Int64(key, v.i)
		case KindFloat:
			e.Float64(key, v.f)
		case KindString:
			e.Str(key, v.s)
		case KindMetadata:
			e.Object(key, v.m)
		default:
			e.Interface(key, v.Interface())
		}
		return true
	})
}

func (m *Metadata) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}
