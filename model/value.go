package model

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind identifies the storage type of an attribute value.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

var (
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrValueParse       = errors.New("cannot parse attribute value")
)

// Value is a tagged attribute value. The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	s    string
}

func Int32(v int32) Value     { return Value{kind: KindInt32, i: int64(v)} }
func Uint32(v uint32) Value   { return Value{kind: KindUint32, u: uint64(v)} }
func Int64(v int64) Value     { return Value{kind: KindInt64, i: v} }
func Uint64(v uint64) Value   { return Value{kind: KindUint64, u: v} }
func Float32(v float32) Value { return Value{kind: KindFloat32, f: float64(v)} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }

// Bool stores a flag the way the attribute maps do: as an int32 0 or 1.
func Bool(v bool) Value {
	if v {
		return Int32(1)
	}
	return Int32(0)
}

func (v Value) Kind() Kind { return v.kind }

// Int returns signed integer kinds.
func (v Value) Int() (int64, bool) {
	if v.kind == KindInt32 || v.kind == KindInt64 {
		return v.i, true
	}
	return 0, false
}

// Uint returns unsigned integer kinds.
func (v Value) Uint() (uint64, bool) {
	if v.kind == KindUint32 || v.kind == KindUint64 {
		return v.u, true
	}
	return 0, false
}

// Float returns floating point kinds.
func (v Value) Float() (float64, bool) {
	if v.kind == KindFloat32 || v.kind == KindFloat64 {
		return v.f, true
	}
	return 0, false
}

// Str returns the string kind.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) String() string {
	switch v.kind {
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindUint32, KindUint64:
		return strconv.FormatUint(v.u, 10)
	case KindFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// Parse returns a value of the same kind holding s. Integer kinds reject
// values outside their range.
func (v Value) Parse(s string) (Value, error) {
	switch v.kind {
	case KindInt32, KindInt64:
		bits := 64
		if v.kind == KindInt32 {
			bits = 32
		}
		n, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s: %v", ErrValueParse, s, v.kind, err)
		}
		return Value{kind: v.kind, i: n}, nil
	case KindUint32, KindUint64:
		bits := 64
		if v.kind == KindUint32 {
			bits = 32
		}
		n, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s: %v", ErrValueParse, s, v.kind, err)
		}
		return Value{kind: v.kind, u: n}, nil
	case KindFloat32, KindFloat64:
		bits := 64
		if v.kind == KindFloat32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s: %v", ErrValueParse, s, v.kind, err)
		}
		return Value{kind: v.kind, f: f}, nil
	case KindString:
		return String(s), nil
	}
	return Value{}, fmt.Errorf("%w: invalid value kind", ErrValueParse)
}

// Attributes is an ordered name to value map.
type Attributes struct {
	names  []string
	values map[string]Value
}

func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]Value)}
}

// Set adds or replaces an attribute.
func (a *Attributes) Set(name string, v Value) {
	if _, ok := a.values[name]; !ok {
		a.names = append(a.names, name)
	}
	a.values[name] = v
}

func (a *Attributes) Get(name string) (Value, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Modify parses s into an existing attribute, keeping its kind.
func (a *Attributes) Modify(name, s string) error {
	cur, ok := a.values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	v, err := cur.Parse(s)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", name, err)
	}
	a.values[name] = v
	return nil
}

// Names returns attribute names in insertion order.
func (a *Attributes) Names() []string {
	return append([]string(nil), a.names...)
}

func (a *Attributes) Len() int { return len(a.names) }
