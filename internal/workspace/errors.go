package workspace

import (
	"errors"
	"fmt"
)

// ErrIDMismatch marks a manifest whose statepoint does not hash to the name
// of the directory holding it.
var ErrIDMismatch = errors.New("manifest statepoint does not match job id")

// CorruptManifestError reports a job directory whose manifest is missing,
// unreadable or inconsistent. Enumeration skips such entries and keeps going.
type CorruptManifestError struct {
	Dir string
	Err error
}

func (e *CorruptManifestError) Error() string {
	return fmt.Sprintf("corrupt manifest in %s: %v", e.Dir, e.Err)
}

func (e *CorruptManifestError) Unwrap() error { return e.Err }
