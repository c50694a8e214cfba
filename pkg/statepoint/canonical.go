package statepoint

import (
	"bytes"
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

// DefaultMaxDepth bounds nesting for encoders built with a zero MaxDepth.
const DefaultMaxDepth = 64

// Encoder produces canonical encodings: compact JSON with object keys sorted
// byte-wise at every level and sequences kept in order.
type Encoder struct {
	// MaxDepth is the deepest Object/Sequence nesting accepted. Zero selects
	// DefaultMaxDepth.
	MaxDepth int
}

// Canonicalize encodes v with the default encoder.
func Canonicalize(v Value) ([]byte, error) {
	return Encoder{}.Encode(v)
}

// Encode returns the canonical encoding of v.
func (e Encoder) Encode(v Value) ([]byte, error) {
	limit := e.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, v, nil, limit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value, path []string, budget int) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(t)))
	case Number:
		buf.WriteString(t.String())
	case String:
		return writeString(buf, string(t), path)
	case Object:
		if budget == 0 {
			return encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		buf.WriteByte('{')
		for i, k := range t.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k, path); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k], append(path, k), budget-1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Sequence:
		if budget == 0 {
			return encodingErr(path, "nesting limit reached", ErrDepthExceeded)
		}
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e, append(path, strconv.Itoa(i)), budget-1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return encodingErr(path, "unsupported value variant", nil)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string, path []string) error {
	if !utf8.ValidString(s) {
		return encodingErr(path, "invalid UTF-8 in string", nil)
	}
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return encodingErr(path, "string", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
