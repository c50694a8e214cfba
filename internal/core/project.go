// Package core ties configuration, the job index, view projection and the
// statepoint registry into a Project.
package core

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"

	"paramspace/internal/blob"
	"paramspace/internal/config"
	"paramspace/internal/index"
	"paramspace/internal/registry"
	"paramspace/internal/view"
	"paramspace/internal/workspace"
	"paramspace/pkg/statepoint"
)

// LookupError is returned by Open when a project id or root cannot be
// resolved.
type LookupError struct {
	Path   string
	Reason string
}

func (e *LookupError) Error() string {
	if e.Path == "" {
		return "project lookup: " + e.Reason
	}
	return fmt.Sprintf("project lookup at %s: %s", e.Path, e.Reason)
}

// Project is an opened parameter-space project.
type Project struct {
	cfg     config.Config
	fs      *workspace.FS
	index   workspace.Index
	closeFn func() error
	linker  view.Linker

	logger  *slog.Logger
	metrics MetricsRecorder
	tracer  Tracer

	regMu sync.Mutex
	reg   *registry.Registry
}

// Option configures Open.
type Option func(*Project)

// WithIndex replaces the index selected by the configuration. The caller
// keeps ownership; Close does not release it.
func WithIndex(ix workspace.Index) Option {
	return func(p *Project) { p.index = ix }
}

// WithRegistry replaces the blob-backed registry selected by the
// configuration.
func WithRegistry(r *registry.Registry) Option {
	return func(p *Project) { p.reg = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Project) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetricsRecorder sets the recorder notified after every operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(p *Project) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTracer sets the tracer wrapping every operation.
func WithTracer(t Tracer) Option {
	return func(p *Project) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLinker replaces the filesystem primitives used by CreateView.
func WithLinker(l view.Linker) Option {
	return func(p *Project) { p.linker = l }
}

// Open validates cfg and opens the configured index. The registry blob store
// is opened on first use.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Project, error) {
	if cfg.ProjectID == "" {
		return nil, &LookupError{Path: cfg.Root, Reason: "no project id configured"}
	}
	if cfg.Root == "" {
		return nil, &LookupError{Reason: "no project root configured"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Link targets are written verbatim, so every derived path must be
	// absolute.
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, &LookupError{Path: cfg.Root, Reason: err.Error()}
	}
	cfg.Root = root
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = statepoint.DefaultMaxDepth
	}
	p := &Project{
		cfg:     cfg,
		linker:  view.OSLinker{},
		logger:  slog.Default(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(p)
	}

	fsOpts := []workspace.FSOption{
		workspace.WithMaxDepth(cfg.MaxDepth),
		workspace.WithLogger(p.logger),
	}
	if cfg.ManifestName != "" {
		fsOpts = append(fsOpts, workspace.WithManifestCodec(workspace.JSONManifest{Name: cfg.ManifestName}))
	}
	fs, err := workspace.NewFS(p.WorkspaceDirectory(), fsOpts...)
	if err != nil {
		return nil, err
	}
	p.fs = fs

	if p.index == nil {
		ixCfg := cfg.Index
		ixCfg.SQLitePath = cfg.Resolve(ixCfg.SQLitePath)
		h, err := index.Open(ctx, ixCfg, fs, p.logger)
		if err != nil {
			return nil, fmt.Errorf("open %s index: %w", ixCfg.Driver, err)
		}
		p.index = h
		p.closeFn = h.Close
	}
	p.logger.DebugContext(ctx, "project opened", "project", cfg.ProjectID, "root", cfg.Root, "index", cfg.Index.Driver)
	return p, nil
}

// Close releases the index opened by Open.
func (p *Project) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}

// ID returns the project id.
func (p *Project) ID() string { return p.cfg.ProjectID }

// Config returns the configuration the project was opened with.
func (p *Project) Config() config.Config { return p.cfg }

// RootDirectory returns the project root.
func (p *Project) RootDirectory() string { return p.cfg.Root }

// WorkspaceDirectory returns the workspace directory, resolved against the
// root when relative.
func (p *Project) WorkspaceDirectory() string {
	dir := p.cfg.WorkspaceDir
	if dir == "" {
		dir = config.Defaults().WorkspaceDir
	}
	return p.cfg.Resolve(dir)
}

// JobDirectory returns the directory sp maps to without creating it.
func (p *Project) JobDirectory(sp statepoint.Object) (string, error) {
	return p.index.DirectoryFor(sp)
}

// OpenJob materializes the job directory and manifest for sp.
func (p *Project) OpenJob(ctx context.Context, sp statepoint.Object) (workspace.Job, error) {
	var job workspace.Job
	err := p.observe(ctx, "open_job", func(ctx context.Context) error {
		var err error
		job, err = p.index.OpenOrCreate(ctx, sp)
		return err
	})
	return job, err
}

// FindStatepoints lazily yields the statepoints of jobs matching filter.
// Corrupt entries are yielded as errors and do not end the sequence.
func (p *Project) FindStatepoints(ctx context.Context, filter statepoint.Object) iter.Seq2[statepoint.Object, error] {
	return func(yield func(statepoint.Object, error) bool) {
		for job, err := range p.index.Enumerate(ctx, filter) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(job.Statepoint, nil) {
				return
			}
		}
	}
}

// FindJobs collects the jobs matching filter. Corrupt entries are returned as
// warnings.
func (p *Project) FindJobs(ctx context.Context, filter statepoint.Object) ([]workspace.Job, []error, error) {
	var (
		jobs     []workspace.Job
		warnings []error
	)
	err := p.observe(ctx, "find_jobs", func(ctx context.Context) error {
		var err error
		jobs, warnings, err = workspace.Collect(p.index.Enumerate(ctx, filter))
		if err != nil {
			return err
		}
		if len(filter) == 0 {
			if w, ok := p.metrics.(WorkspaceObserver); ok {
				w.ObserveWorkspace(len(jobs), len(warnings))
			}
		}
		return nil
	})
	return jobs, warnings, err
}

// RebuildIndex re-derives a cached index from the workspace directories.
func (p *Project) RebuildIndex(ctx context.Context) ([]error, error) {
	var warnings []error
	err := p.observe(ctx, "rebuild_index", func(ctx context.Context) error {
		var err error
		if r, ok := p.index.(workspace.Rebuilder); ok {
			warnings, err = r.Rebuild(ctx)
			return err
		}
		_, warnings, err = workspace.Collect(p.index.Enumerate(ctx, nil))
		return err
	})
	return warnings, err
}

// ViewRequest selects the jobs to project and where.
type ViewRequest struct {
	// Filter restricts the projected jobs; empty selects all.
	Filter statepoint.Object
	// Prefix is the view root, relative to the project root. Empty uses the
	// configured view prefix.
	Prefix string
	// PrefixFilter nests the view under the filter's key/value pairs.
	PrefixFilter bool
}

// ViewResult describes a finished projection.
type ViewResult struct {
	Root     string
	Keys     []view.KeyPath
	Jobs     int
	Report   view.Report
	Warnings []error
}

// CreateView projects the matching jobs into a link tree named by their
// discriminating key-paths. Corrupt jobs and per-link conflicts are reported
// in the result and never abort the run.
func (p *Project) CreateView(ctx context.Context, req ViewRequest) (ViewResult, error) {
	var res ViewResult
	err := p.observe(ctx, "create_view", func(ctx context.Context) error {
		jobs, warnings, err := workspace.Collect(p.index.Enumerate(ctx, req.Filter))
		if err != nil {
			return err
		}
		res.Warnings = warnings
		res.Jobs = len(jobs)

		sps := workspace.Statepoints(jobs)
		keys, err := view.Aggregator{MaxDepth: p.cfg.MaxDepth}.DiscriminatingKeys(sps)
		if err != nil {
			return fmt.Errorf("discriminating keys: %w", err)
		}
		res.Keys = keys

		prefix := req.Prefix
		if prefix == "" {
			prefix = p.cfg.ViewPrefix
		}
		root := p.cfg.Resolve(prefix)
		if req.PrefixFilter && len(req.Filter) > 0 {
			if root, err = view.FilterPrefix(root, req.Filter); err != nil {
				return fmt.Errorf("filter prefix: %w", err)
			}
		}
		res.Root = root

		projector := view.Projector{
			Linker:          p.linker,
			MissingSentinel: p.cfg.MissingSentinel,
			Encoder:         statepoint.Encoder{MaxDepth: p.cfg.MaxDepth},
		}
		entries, err := projector.Paths(sps, keys)
		if err != nil {
			return err
		}
		res.Report, err = projector.Project(ctx, root, p.index.Root(), entries)
		if err != nil {
			return err
		}
		for _, c := range res.Report.Conflicts {
			p.logger.WarnContext(ctx, "view: entry not linked", "error", c)
		}
		return nil
	})
	return res, err
}

func (p *Project) openRegistry(ctx context.Context) (*registry.Registry, error) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	if p.reg != nil {
		return p.reg, nil
	}
	bcfg := p.cfg.Blob
	bcfg.FSRoot = p.cfg.Resolve(bcfg.FSRoot)
	store, err := blob.Open(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	p.reg = registry.New(store, registry.WithKey(p.cfg.RegistryKey), registry.WithMaxDepth(p.cfg.MaxDepth))
	return p.reg, nil
}

// DumpStatepoints maps sps to their job IDs. A nil sps dumps every job in
// the workspace.
func (p *Project) DumpStatepoints(ctx context.Context, sps []statepoint.Object) (map[statepoint.ID]statepoint.Object, error) {
	var out map[statepoint.ID]statepoint.Object
	err := p.observe(ctx, "dump_statepoints", func(ctx context.Context) error {
		if sps == nil {
			all, err := p.allStatepoints(ctx)
			if err != nil {
				return err
			}
			sps = all
		}
		out = make(map[statepoint.ID]statepoint.Object, len(sps))
		enc := statepoint.Encoder{MaxDepth: p.cfg.MaxDepth}
		for _, sp := range sps {
			id, err := enc.Identity(sp)
			if err != nil {
				return err
			}
			out[id] = sp
		}
		return nil
	})
	return out, err
}

// WriteStatepoints merges sps into the registry document and returns its
// entry count. A nil sps writes every job in the workspace.
func (p *Project) WriteStatepoints(ctx context.Context, sps []statepoint.Object) (int, error) {
	var n int
	err := p.observe(ctx, "write_statepoints", func(ctx context.Context) error {
		reg, err := p.openRegistry(ctx)
		if err != nil {
			return err
		}
		if sps == nil {
			if sps, err = p.allStatepoints(ctx); err != nil {
				return err
			}
		}
		n, err = reg.Write(ctx, sps)
		return err
	})
	return n, err
}

// ReadStatepoints returns the registry document.
func (p *Project) ReadStatepoints(ctx context.Context) (map[statepoint.ID]statepoint.Object, error) {
	var out map[statepoint.ID]statepoint.Object
	err := p.observe(ctx, "read_statepoints", func(ctx context.Context) error {
		reg, err := p.openRegistry(ctx)
		if err != nil {
			return err
		}
		out, err = reg.Read(ctx)
		return err
	})
	return out, err
}

// ResetStatepoints removes the registry document and reports whether it
// existed.
func (p *Project) ResetStatepoints(ctx context.Context) (bool, error) {
	var existed bool
	err := p.observe(ctx, "reset_statepoints", func(ctx context.Context) error {
		reg, err := p.openRegistry(ctx)
		if err != nil {
			return err
		}
		existed, err = reg.Reset(ctx)
		return err
	})
	return existed, err
}

// StatRegistry describes the registry document without reading it.
func (p *Project) StatRegistry(ctx context.Context) (registry.Stat, error) {
	var st registry.Stat
	err := p.observe(ctx, "stat_registry", func(ctx context.Context) error {
		reg, err := p.openRegistry(ctx)
		if err != nil {
			return err
		}
		st, err = reg.Stat(ctx)
		return err
	})
	return st, err
}

// GetStatepoint returns the statepoint of id from its job manifest, falling
// back to the registry when the job directory is gone.
func (p *Project) GetStatepoint(ctx context.Context, id statepoint.ID) (statepoint.Object, error) {
	var sp statepoint.Object
	err := p.observe(ctx, "get_statepoint", func(ctx context.Context) error {
		job, err := p.fs.Load(id)
		if err == nil {
			sp = job.Statepoint
			return nil
		}
		p.logger.DebugContext(ctx, "statepoint not in workspace, trying registry", "id", id, "error", err)
		reg, rerr := p.openRegistry(ctx)
		if rerr != nil {
			return rerr
		}
		sp, rerr = reg.Get(ctx, id)
		return rerr
	})
	return sp, err
}

func (p *Project) allStatepoints(ctx context.Context) ([]statepoint.Object, error) {
	jobs, warnings, err := workspace.Collect(p.index.Enumerate(ctx, nil))
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		p.logger.WarnContext(ctx, "skipped corrupt jobs", "count", len(warnings))
	}
	return workspace.Statepoints(jobs), nil
}
