package view

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"paramspace/pkg/statepoint"
)

// DefaultMissingSentinel is the value segment for a key-path a statepoint
// lacks.
const DefaultMissingSentinel = "__missing__"

// Entry pairs a statepoint with its relative view path.
type Entry struct {
	ID         statepoint.ID
	Statepoint statepoint.Object
	ViewPath   string
}

// IdentityCollisionConflict reports a view path that is already occupied by
// something other than a link to the wanted job directory. Two statepoints
// that agree on every discriminating key-path produce the same view path and
// end up here; this is a known limitation of the projection.
type IdentityCollisionConflict struct {
	Path     string
	Existing string
	Wanted   string
}

func (e *IdentityCollisionConflict) Error() string {
	if e.Existing == "" {
		return fmt.Sprintf("view path %s is occupied, cannot link to %s", e.Path, e.Wanted)
	}
	return fmt.Sprintf("view path %s already links to %s, cannot link to %s", e.Path, e.Existing, e.Wanted)
}

// Report summarizes a projection run.
type Report struct {
	Linked    int
	Skipped   int
	Conflicts []error
}

// Linker is the filesystem primitive used to build the tree.
type Linker interface {
	MkdirAll(path string) error
	Symlink(target, link string) error
	Readlink(path string) (string, error)
	Lstat(path string) (fs.FileInfo, error)
}

// OSLinker implements Linker with the os package.
type OSLinker struct{}

func (OSLinker) MkdirAll(path string) error             { return os.MkdirAll(path, 0o755) }
func (OSLinker) Symlink(target, link string) error      { return os.Symlink(target, link) }
func (OSLinker) Readlink(path string) (string, error)   { return os.Readlink(path) }
func (OSLinker) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

// Projector renders view paths and materializes them as symbolic links.
type Projector struct {
	Linker          Linker
	MissingSentinel string
	Encoder         statepoint.Encoder
}

func (p Projector) linker() Linker {
	if p.Linker == nil {
		return OSLinker{}
	}
	return p.Linker
}

func (p Projector) sentinel() string {
	if p.MissingSentinel == "" {
		return DefaultMissingSentinel
	}
	return p.MissingSentinel
}

// Paths computes one Entry per statepoint. With no discriminating key-paths
// the job ID is used as the view path.
func (p Projector) Paths(sps []statepoint.Object, keys []KeyPath) ([]Entry, error) {
	out := make([]Entry, 0, len(sps))
	for _, sp := range sps {
		id, err := p.Encoder.Identity(sp)
		if err != nil {
			return nil, err
		}
		segments := make([]string, 0, 2*len(keys))
		for _, key := range keys {
			segments = append(segments, Segment(key.String()))
			v, ok := sp.Lookup(key)
			if !ok {
				segments = append(segments, Segment(p.sentinel()))
				continue
			}
			s, err := ValueString(v)
			if err != nil {
				return nil, fmt.Errorf("render %s: %w", key, err)
			}
			segments = append(segments, Segment(s))
		}
		viewPath := id.String()
		if len(segments) > 0 {
			viewPath = filepath.Join(segments...)
		}
		out = append(out, Entry{ID: id, Statepoint: sp, ViewPath: viewPath})
	}
	return out, nil
}

// Project links root/ViewPath to workspaceRoot/ID for every entry. Link
// targets are absolute; a relative workspaceRoot is resolved against the
// working directory. A link that already points at the wanted job directory
// is left alone, so re-running a projection completes a partially built
// tree. Conflicts are collected per entry and never stop the remaining links.
func (p Projector) Project(ctx context.Context, root, workspaceRoot string, entries []Entry) (Report, error) {
	var report Report
	workspaceRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return report, fmt.Errorf("resolve workspace root: %w", err)
	}
	l := p.linker()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dst := filepath.Join(root, e.ViewPath)
		src := filepath.Join(workspaceRoot, e.ID.String())
		linked, err := p.link(l, root, src, dst)
		switch {
		case err != nil:
			report.Conflicts = append(report.Conflicts, err)
		case linked:
			report.Linked++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

func (p Projector) link(l Linker, root, src, dst string) (bool, error) {
	parent := filepath.Dir(dst)
	if err := checkParents(l, root, parent, src); err != nil {
		return false, err
	}
	if err := l.MkdirAll(parent); err != nil {
		return false, fmt.Errorf("create view directory %s: %w", parent, err)
	}
	info, err := l.Lstat(dst)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return false, fmt.Errorf("inspect %s: %w", dst, err)
	case info.Mode()&fs.ModeSymlink != 0:
		existing, rerr := l.Readlink(dst)
		if rerr != nil {
			return false, fmt.Errorf("read link %s: %w", dst, rerr)
		}
		if existing == src {
			return false, nil
		}
		return false, &IdentityCollisionConflict{Path: dst, Existing: existing, Wanted: src}
	default:
		return false, &IdentityCollisionConflict{Path: dst, Wanted: src}
	}
	if err := l.Symlink(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, &IdentityCollisionConflict{Path: dst, Wanted: src}
		}
		return false, fmt.Errorf("link %s: %w", dst, err)
	}
	return true, nil
}

// checkParents refuses to create directories through an existing link, which
// would write into a job directory.
func checkParents(l Linker, root, parent, src string) error {
	rel, err := filepath.Rel(root, parent)
	if err != nil || rel == "." {
		return nil
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := l.Lstat(cur)
		if err != nil {
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			existing, _ := l.Readlink(cur)
			return &IdentityCollisionConflict{Path: cur, Existing: existing, Wanted: src}
		}
	}
	return nil
}

// ValueString renders a value as a view path segment before escaping.
func ValueString(v statepoint.Value) (string, error) {
	switch t := v.(type) {
	case statepoint.String:
		return string(t), nil
	case statepoint.Number:
		return t.String(), nil
	case statepoint.Bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case statepoint.Null, nil:
		return "null", nil
	default:
		b, err := statepoint.Canonicalize(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Segment makes s usable as a single path element. Values holding a
// separator, NUL, '%' or a quote are percent-escaped, and the names "", "."
// and ".." are quoted, so distinct values never share a segment.
func Segment(s string) string {
	if strings.ContainsAny(s, "/\\\x00%'") {
		s = url.PathEscape(s)
	}
	switch s {
	case "", ".", "..":
		return "'" + s + "'"
	}
	return s
}

// FilterPrefix appends the filter's key/value pairs, in key order, as leading
// segments under prefix.
func FilterPrefix(prefix string, filter statepoint.Object) (string, error) {
	parts := []string{prefix}
	for _, k := range filter.Keys() {
		s, err := ValueString(filter[k])
		if err != nil {
			return "", err
		}
		parts = append(parts, Segment(k), Segment(s))
	}
	return filepath.Join(parts...), nil
}
