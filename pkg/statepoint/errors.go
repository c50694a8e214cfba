package statepoint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDepthExceeded is returned when a statepoint nests deeper than the
// configured limit.
var ErrDepthExceeded = errors.New("statepoint nesting too deep")

// EncodingError reports a value that has no canonical representation. It is
// fatal to the identity computation that hit it.
type EncodingError struct {
	Path   []string
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	loc := "<root>"
	if len(e.Path) > 0 {
		loc = strings.Join(e.Path, ".")
	}
	if e.Err != nil {
		return fmt.Sprintf("statepoint: cannot encode %s: %s: %v", loc, e.Reason, e.Err)
	}
	return fmt.Sprintf("statepoint: cannot encode %s: %s", loc, e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func encodingErr(path []string, reason string, err error) *EncodingError {
	cp := make([]string, len(path))
	copy(cp, path)
	return &EncodingError{Path: cp, Reason: reason, Err: err}
}
