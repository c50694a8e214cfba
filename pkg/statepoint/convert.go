package statepoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// FromGo converts a plain Go value into a Value. Supported inputs are nil,
// bool, every integer and float kind, json.Number, string, maps with string
// keys, slices and arrays, and existing Values. Anything else yields an
// *EncodingError naming the offending key path.
func FromGo(v any) (Value, error) {
	return fromGo(v, nil, DefaultMaxDepth)
}

// ObjectFromGo is FromGo restricted to mapping inputs.
func ObjectFromGo(v any) (Object, error) {
	val, err := FromGo(v)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(Object)
	if !ok {
		return nil, encodingErr(nil, fmt.Sprintf("statepoint must be a mapping, got %T", v), nil)
	}
	return obj, nil
}

// MustObject converts v and panics on failure. Intended for literals in tests
// and examples.
func MustObject(v any) Object {
	obj, err := ObjectFromGo(v)
	if err != nil {
		panic(err)
	}
	return obj
}

func fromGo(v any, path []string, budget int) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return checkValue(t, path, budget)
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		n, err := ParseNumber(t.String())
		if err != nil {
			return nil, encodingErr(path, "number", err)
		}
		return n, nil
	case float64:
		return floatValue(t, path)
	case float32:
		return floatValue(float64(t), path)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float(), path)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return fromGo(rv.Elem().Interface(), path, budget)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, encodingErr(path, fmt.Sprintf("mapping keys must be strings, got %s", rv.Type().Key()), nil)
		}
		if budget == 0 {
			return nil, encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			child, err := fromGo(iter.Value().Interface(), append(path, key), budget-1)
			if err != nil {
				return nil, err
			}
			obj[key] = child
		}
		return obj, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Sequence{}, nil
		}
		if budget == 0 {
			return nil, encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		seq := make(Sequence, rv.Len())
		for i := range seq {
			child, err := fromGo(rv.Index(i).Interface(), append(path, strconv.Itoa(i)), budget-1)
			if err != nil {
				return nil, err
			}
			seq[i] = child
		}
		return seq, nil
	}
	return nil, encodingErr(path, fmt.Sprintf("no canonical representation for %T", v), nil)
}

func floatValue(f float64, path []string) (Value, error) {
	n, err := Float(f)
	if err != nil {
		return nil, encodingErr(path, "number", err)
	}
	return n, nil
}

// checkValue validates a Value tree that may have been built by hand, e.g. a
// nil entry inside an Object.
func checkValue(v Value, path []string, budget int) (Value, error) {
	switch t := v.(type) {
	case Object:
		if t == nil {
			return Object{}, nil
		}
		if budget == 0 {
			return nil, encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		out := make(Object, len(t))
		for k, e := range t {
			c, err := fromGo(e, append(path, k), budget-1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case Sequence:
		if budget == 0 {
			return nil, encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		out := make(Sequence, len(t))
		for i, e := range t {
			c, err := fromGo(e, append(path, strconv.Itoa(i)), budget-1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return v, nil
	}
}

// ParseObject decodes a JSON document whose top level is an object.
func ParseObject(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode statepoint: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode statepoint: trailing data after object")
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode statepoint: top level must be an object, got %T", raw)
	}
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToGo converts v into plain Go values (map[string]any, []any, json.Number,
// string, bool, nil).
func ToGo(v Value) any {
	switch t := v.(type) {
	case Object:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToGo(e)
		}
		return out
	case Sequence:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToGo(e)
		}
		return out
	case Number:
		return json.Number(t.String())
	case String:
		return string(t)
	case Bool:
		return bool(t)
	default:
		return nil
	}
}

// MarshalJSON emits the canonical encoding.
func (o Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return Canonicalize(o)
}

// UnmarshalJSON decodes a JSON object into o.
func (o *Object) UnmarshalJSON(data []byte) error {
	obj, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = obj
	return nil
}
