package statepoint

import "bytes"

// Equal reports whether a and b have identical canonical encodings. Values
// without a canonical encoding are never equal to anything.
func Equal(a, b Value) bool {
	ea, err := Canonicalize(a)
	if err != nil {
		return false
	}
	eb, err := Canonicalize(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// Matches reports whether sp satisfies filter: every key of filter must be
// present in sp with an equal value. Keys of sp absent from filter are
// ignored, and an empty filter matches every statepoint. Values are compared
// as whole sub-structures; there is no nested-path or range syntax.
func Matches(sp, filter Object) bool {
	for key, want := range filter {
		got, ok := sp[key]
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}
