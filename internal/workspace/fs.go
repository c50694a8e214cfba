package workspace

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paramspace/pkg/statepoint"
)

// DefaultPendingGrace is how recently a job directory without a manifest
// must have changed for Enumerate to treat it as still being created.
const DefaultPendingGrace = 2 * time.Second

// FS is the filesystem Index: one directory per job ID under root.
type FS struct {
	root    string
	codec   ManifestCodec
	encoder statepoint.Encoder
	logger  *slog.Logger
	grace   time.Duration
}

// FSOption configures an FS.
type FSOption func(*FS)

// WithManifestCodec replaces the default JSON manifest codec.
func WithManifestCodec(c ManifestCodec) FSOption {
	return func(f *FS) { f.codec = c }
}

// WithMaxDepth bounds statepoint nesting accepted by the index.
func WithMaxDepth(depth int) FSOption {
	return func(f *FS) { f.encoder = statepoint.Encoder{MaxDepth: depth} }
}

// WithLogger sets the logger used for corrupt-entry warnings.
func WithLogger(l *slog.Logger) FSOption {
	return func(f *FS) { f.logger = l }
}

// WithPendingGrace overrides DefaultPendingGrace. Zero reports every
// directory without a manifest as corrupt.
func WithPendingGrace(d time.Duration) FSOption {
	return func(f *FS) { f.grace = d }
}

// NewFS returns an index rooted at root. The directory is created lazily by
// OpenOrCreate.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root required")
	}
	f := &FS{root: filepath.Clean(root), codec: JSONManifest{}, grace: DefaultPendingGrace}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f, nil
}

// Root returns the workspace directory.
func (f *FS) Root() string { return f.root }

// Codec returns the manifest codec in use.
func (f *FS) Codec() ManifestCodec { return f.codec }

// Encoder returns the statepoint encoder used to derive job IDs.
func (f *FS) Encoder() statepoint.Encoder { return f.encoder }

// DirectoryFor returns root/identity(sp).
func (f *FS) DirectoryFor(sp statepoint.Object) (string, error) {
	id, err := f.encoder.Identity(sp)
	if err != nil {
		return "", err
	}
	return f.DirectoryForID(id), nil
}

// DirectoryForID returns the job directory for id.
func (f *FS) DirectoryForID(id statepoint.ID) string {
	return filepath.Join(f.root, id.String())
}

// OpenOrCreate creates the job directory and manifest when absent. An
// existing directory is success; an existing manifest must describe sp.
func (f *FS) OpenOrCreate(ctx context.Context, sp statepoint.Object) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	id, err := f.encoder.Identity(sp)
	if err != nil {
		return Job{}, err
	}
	dir := f.DirectoryForID(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create job directory: %w", err)
	}
	existing, err := f.codec.ReadManifest(dir)
	switch {
	case err == nil:
		got, idErr := f.encoder.Identity(existing)
		if idErr != nil || got != id {
			return Job{}, &CorruptManifestError{Dir: dir, Err: ErrIDMismatch}
		}
		return Job{ID: id, Dir: dir, Statepoint: existing}, nil
	case isNotExist(err):
		if err := f.codec.WriteManifest(dir, sp); err != nil {
			return Job{}, fmt.Errorf("write manifest: %w", err)
		}
		return Job{ID: id, Dir: dir, Statepoint: sp.Clone()}, nil
	default:
		return Job{}, &CorruptManifestError{Dir: dir, Err: err}
	}
}

// Load reads a single job by ID.
func (f *FS) Load(id statepoint.ID) (Job, error) {
	return f.load(f.DirectoryForID(id), id)
}

func (f *FS) load(dir string, id statepoint.ID) (Job, error) {
	sp, err := f.codec.ReadManifest(dir)
	if err != nil {
		return Job{}, &CorruptManifestError{Dir: dir, Err: err}
	}
	got, err := f.encoder.Identity(sp)
	if err != nil {
		return Job{}, &CorruptManifestError{Dir: dir, Err: err}
	}
	if got != id {
		return Job{}, &CorruptManifestError{Dir: dir, Err: fmt.Errorf("%w: manifest hashes to %s", ErrIDMismatch, got)}
	}
	return Job{ID: id, Dir: dir, Statepoint: sp}, nil
}

// Enumerate scans the workspace from scratch on each call. A missing root is
// an empty workspace. A job directory whose manifest is missing and which
// changed within the pending grace period of the scan is being created by a
// concurrent OpenOrCreate; it is omitted rather than reported.
func (f *FS) Enumerate(ctx context.Context, filter statepoint.Object) iter.Seq2[Job, error] {
	return func(yield func(Job, error) bool) {
		start := time.Now()
		entries, err := os.ReadDir(f.root)
		if err != nil {
			if isNotExist(err) {
				return
			}
			yield(Job{}, fmt.Errorf("list workspace %s: %w", f.root, err))
			return
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(Job{}, err)
				return
			}
			name := entry.Name()
			if !entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			dir := filepath.Join(f.root, name)
			id, err := statepoint.ParseID(name)
			if err != nil {
				corrupt := &CorruptManifestError{Dir: dir, Err: err}
				f.warn(ctx, corrupt)
				if !yield(Job{}, corrupt) {
					return
				}
				continue
			}
			job, err := f.load(dir, id)
			if err != nil && isNotExist(err) && f.pending(entry, start) {
				f.logger.DebugContext(ctx, "workspace: skipping job directory without manifest yet", slog.String("dir", dir))
				continue
			}
			if err != nil {
				f.warn(ctx, err)
				if !yield(Job{}, err) {
					return
				}
				continue
			}
			if !statepoint.Matches(job.Statepoint, filter) {
				continue
			}
			if !yield(job, nil) {
				return
			}
		}
	}
}

func (f *FS) pending(entry os.DirEntry, start time.Time) bool {
	if f.grace <= 0 {
		return false
	}
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return start.Sub(info.ModTime()) < f.grace
}

func (f *FS) warn(ctx context.Context, err error) {
	f.logger.WarnContext(ctx, "workspace: skipping corrupt job directory", slog.String("error", err.Error()))
}
