package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindMetadata
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindMetadata:
		return "metadata"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union over the kinds Metadata can hold. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    *Metadata
	l    []Value
}

func Null() Value { return Value{} }
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }
func Int(v int64) Value { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func List(values ...Value) Value {
	l := make([]Value, len(values))
	copy(l, values)
	return Value{kind: KindList, l: l}
}

// Nested wraps a Metadata as a value. A nil m is stored as an empty Metadata.
func Nested(m *Metadata) Value {
	if m == nil {
		m = New()
	}
	return Value{kind: KindMetadata, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeMismatchError{Expected: KindBool.String(), Actual: v.kind}
	}
	return v.b, nil
}

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, &TypeMismatchError{Expected: KindInt.String(), Actual: v.kind}
	}
	return v.i, nil
}

func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, &TypeMismatchError{Expected: KindFloat.String(), Actual: v.kind}
	}
	return v.f, nil
}

// AsNumber reads an Int or a Float as float64. Any other kind is a mismatch.
func (v Value) AsNumber() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), nil
	case KindFloat:
		return v.f, nil
	default:
		return 0, &TypeMismatchError{Expected: "number", Actual: v.kind}
	}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &TypeMismatchError{Expected: KindString.String(), Actual: v.kind}
	}
	return v.s, nil
}

func (v Value) AsMetadata() (*Metadata, error) {
	if v.kind != KindMetadata {
		return nil, &TypeMismatchError{Expected: KindMetadata.String(), Actual: v.kind}
	}
	return v.m, nil
}

func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, &TypeMismatchError{Expected: KindList.String(), Actual: v.kind}
	}
	out := make([]Value, len(v.l))
	copy(out, v.l)
	return out, nil
}

// native returns the Go value backing v, used by the generic accessor.
func (v Value) native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindMetadata:
		return v.m
	case KindList:
		out := make([]Value, len(v.l))
		copy(out, v.l)
		return out
	default:
		return nil
	}
}

// Interface converts v into plain Go values (maps, slices, scalars).
func (v Value) Interface() any {
	switch v.kind {
	case KindMetadata:
		return v.m.ToMap()
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Interface()
		}
		return out
	default:
		return v.native()
	}
}

func (v Value) clone() Value {
	switch v.kind {
	case KindMetadata:
		return Value{kind: KindMetadata, m: v.m.Clone()}
	case KindList:
		out := make([]Value, len(v.l))
		for i, item := range v.l {
			out[i] = item.clone()
		}
		return Value{kind: KindList, l: out}
	default:
		return v
	}
}

// Equal reports deep equality, including kind.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindMetadata:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes integral floats with a trailing ".0" so the kind survives a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("metadata: unsupported float value %v", v.f)
		}
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1e21 {
			return []byte(strconv.FormatFloat(v.f, 'f', -1, 64) + ".0"), nil
		}
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindMetadata:
		return v.m.MarshalJSON()
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("metadata: unknown kind %s", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("metadata: empty JSON value")
	}

	switch data[0] {
	case 'n':
		*v = Null()
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '{':
		m := New()
		if err := m.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Nested(m)
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return err
		}
		items := make([]Value, len(raws))
		for i, raw := range raws {
			if err := items[i].UnmarshalJSON(raw); err != nil {
				return err
			}
		}
		*v = List(items...)
	default:
		return v.unmarshalNumber(string(data))
	}
	return nil
}

func (v *Value) unmarshalNumber(s string) error {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("metadata: invalid number %q: %w", s, err)
	}
	*v = Float(f)
	return nil
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}
