// Package value owns the in-process scripting value model exchanged with the
// embedded engine.
//
// Ownership boundary:
// - tagged value variants
// - structural equality
// - numeric integer/float classification
package value

import "math"

// Kind tags one scripting value variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Value is one scripting value. The variant set is closed.
type Value interface {
	Kind() Kind
	isValue()
}

// Nil is the absent value.
type Nil struct{}

// Bool is a boolean value.
type Bool bool

// Number is the single scripting numeric type.
type Number float64

// String holds raw bytes in the host's native text encoding.
type String string

// Array is an ordered sequence, addressed 1..N by the engine.
type Array []Value

// Pair is one map entry.
type Pair struct {
	Key Value
	Val Value
}

// Map is an associative aggregate. Entry order carries no meaning.
type Map []Pair

// Opaque stands in for host values with no wire form (functions, userdata).
type Opaque struct {
	TypeName string
}

func (Nil) Kind() Kind    { return KindNil }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Map) Kind() Kind    { return KindMap }
func (Opaque) Kind() Kind { return KindOpaque }

func (Nil) isValue()    {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Map) isValue()    {}
func (Opaque) isValue() {}

// IsInteger reports whether n is integral and fits int64. Negative zero is
// kept as a float so its sign survives the wire.
func (n Number) IsInteger() bool {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if f != math.Trunc(f) {
		return false
	}
	if f == 0 && math.Signbit(f) {
		return false
	}
	// 2^63 is exactly representable; anything at or above it overflows int64.
	return f >= -9223372036854775808.0 && f < 9223372036854775808.0
}

// Len returns the number of entries after a full enumeration pass.
func (m Map) Len() int {
	n := 0
	for range m {
		n++
	}
	return n
}

// Get returns the value stored under key, using structural key equality.
func (m Map) Get(key Value) (Value, bool) {
	for _, p := range m {
		if Equal(p.Key, key) {
			return p.Val, true
		}
	}
	return nil, false
}

func orNil(v Value) Value {
	if v == nil {
		return Nil{}
	}
	return v
}
