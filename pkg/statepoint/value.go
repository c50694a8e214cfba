// Package statepoint models the nested key/value configurations that identify
// a unit of work and derives their content-addressed identity.
//
// A statepoint is an Object whose values are drawn from a closed set of
// variants: Null, Bool, Number, String, Object and Sequence. Two statepoints
// are equal exactly when their canonical encodings are byte-identical, which
// makes equality independent of key insertion order and of the textual form
// of numbers.
package statepoint

import (
	"sort"
)

// Value is one node of a statepoint tree. The set of implementations is
// closed; callers switch over the concrete types.
type Value interface {
	isValue()
}

// Null is the JSON null value.
type Null struct{}

// Bool is a boolean scalar.
type Bool bool

// String is a string scalar.
type String string

// Object maps keys to values. A top-level Object is a statepoint.
type Object map[string]Value

// Sequence is an ordered list of values; position is significant.
type Sequence []Value

func (Null) isValue()     {}
func (Bool) isValue()     {}
func (String) isValue()   {}
func (Number) isValue()   {}
func (Object) isValue()   {}
func (Sequence) isValue() {}

// Keys returns the object's keys in canonical (byte-wise ascending) order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks nested objects along path. It reports false when a segment is
// missing or an intermediate value is not an Object.
func (o Object) Lookup(path []string) (Value, bool) {
	if len(path) == 0 {
		return o, true
	}
	var cur Value = o
	for _, key := range path {
		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch t := v.(type) {
	case Object:
		return t.Clone()
	case Sequence:
		out := make(Sequence, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// IsCompound reports whether v is an Object or a Sequence.
func IsCompound(v Value) bool {
	switch v.(type) {
	case Object, Sequence:
		return true
	default:
		return false
	}
}
