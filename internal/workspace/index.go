// Package workspace maps statepoints to job directories and recovers the
// statepoint set by scanning those directories.
//
// The workspace directory is the only index: each job lives in a directory
// named by its statepoint ID and carries a manifest holding the statepoint.
// Callers depend on the Index interface so an embedded index can replace the
// directory scan without changing view projection.
package workspace

import (
	"context"
	"errors"
	"iter"

	"paramspace/pkg/statepoint"
)

// Job is one materialized statepoint.
type Job struct {
	ID         statepoint.ID
	Dir        string
	Statepoint statepoint.Object
}

// Index resolves statepoints to job directories and enumerates the jobs that
// exist.
type Index interface {
	// Root returns the workspace directory.
	Root() string
	// DirectoryFor returns the job directory for sp whether or not it exists.
	DirectoryFor(sp statepoint.Object) (string, error)
	// OpenOrCreate materializes the job directory and its manifest. Calling it
	// again with an equal statepoint is a no-op.
	OpenOrCreate(ctx context.Context, sp statepoint.Object) (Job, error)
	// Enumerate lazily yields every job matching filter (all jobs when filter
	// is empty). Order is unspecified. Per-entry problems are yielded as
	// *CorruptManifestError values and do not end the sequence; any other
	// error is fatal and is the last element.
	Enumerate(ctx context.Context, filter statepoint.Object) iter.Seq2[Job, error]
}

// Rebuilder is implemented by indexes that cache the workspace and can
// re-derive their contents from a directory scan.
type Rebuilder interface {
	Rebuild(ctx context.Context) (warnings []error, err error)
}

// Collect drains seq. Corrupt entries are returned as warnings; the first
// other error stops collection and is returned as err.
func Collect(seq iter.Seq2[Job, error]) (jobs []Job, warnings []error, err error) {
	for job, e := range seq {
		if e != nil {
			var corrupt *CorruptManifestError
			if errors.As(e, &corrupt) {
				warnings = append(warnings, e)
				continue
			}
			return jobs, warnings, e
		}
		jobs = append(jobs, job)
	}
	return jobs, warnings, nil
}

// Statepoints extracts the statepoints of jobs, preserving order.
func Statepoints(jobs []Job) []statepoint.Object {
	out := make([]statepoint.Object, len(jobs))
	for i, j := range jobs {
		out[i] = j.Statepoint
	}
	return out
}
