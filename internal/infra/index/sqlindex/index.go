// Package sqlindex records jobs in a SQL table so enumeration does not need
// to read every manifest. The workspace directory stays authoritative: job
// creation goes through workspace.FS first and Rebuild re-derives the table
// from a directory scan.
package sqlindex

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"paramspace/internal/workspace"
	"paramspace/pkg/statepoint"
)

// Dialect holds the driver-specific statements.
type Dialect struct {
	Name        string
	CreateTable string
	Insert      string // (job_id, statepoint), must ignore an existing job_id
	SelectAll   string // job_id, statepoint
	DeleteAll   string
}

// Index implements workspace.Index on top of a workspace.FS and a jobs table.
type Index struct {
	fs      *workspace.FS
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	_ workspace.Index     = (*Index)(nil)
	_ workspace.Rebuilder = (*Index)(nil)
)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for skipped rows.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New ensures the jobs table exists and returns the index.
func New(ctx context.Context, db *sql.DB, dialect Dialect, fs *workspace.FS, opts ...Option) (*Index, error) {
	if db == nil || fs == nil {
		return nil, fmt.Errorf("sqlindex: db and workspace required")
	}
	ix := &Index{fs: fs, db: db, dialect: dialect, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		return nil, fmt.Errorf("%s: create jobs table: %w", dialect.Name, err)
	}
	return ix, nil
}

// Root returns the workspace directory.
func (ix *Index) Root() string { return ix.fs.Root() }

// DirectoryFor delegates to the workspace.
func (ix *Index) DirectoryFor(sp statepoint.Object) (string, error) { return ix.fs.DirectoryFor(sp) }

// DB exposes the underlying sql.DB for integration testing hooks.
func (ix *Index) DB() *sql.DB { return ix.db }

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

// OpenOrCreate materializes the job in the workspace and records it.
func (ix *Index) OpenOrCreate(ctx context.Context, sp statepoint.Object) (workspace.Job, error) {
	job, err := ix.fs.OpenOrCreate(ctx, sp)
	if err != nil {
		return workspace.Job{}, err
	}
	payload, err := ix.fs.Encoder().Encode(job.Statepoint)
	if err != nil {
		return workspace.Job{}, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, err := ix.db.ExecContext(ctx, ix.dialect.Insert, job.ID.String(), payload); err != nil {
		return workspace.Job{}, fmt.Errorf("%s: record job %s: %w", ix.dialect.Name, job.ID, err)
	}
	return job, nil
}

type row struct {
	id      string
	payload []byte
}

// Enumerate reads the jobs table. Rows are fetched before the first yield so
// callers may create jobs while iterating.
func (ix *Index) Enumerate(ctx context.Context, filter statepoint.Object) iter.Seq2[workspace.Job, error] {
	return func(yield func(workspace.Job, error) bool) {
		rows, err := ix.selectAll(ctx)
		if err != nil {
			yield(workspace.Job{}, err)
			return
		}
		for _, r := range rows {
			if err := ctx.Err(); err != nil {
				yield(workspace.Job{}, err)
				return
			}
			job, err := ix.decode(r)
			if err != nil {
				ix.logger.WarnContext(ctx, "index: skipping corrupt row", slog.String("driver", ix.dialect.Name), slog.String("error", err.Error()))
				if !yield(workspace.Job{}, err) {
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

func (ix *Index) selectAll(ctx context.Context) ([]row, error) {
	rs, err := ix.db.QueryContext(ctx, ix.dialect.SelectAll)
	if err != nil {
		return nil, fmt.Errorf("%s: select jobs: %w", ix.dialect.Name, err)
	}
	defer func() { _ = rs.Close() }()
	var out []row
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.id, &r.payload); err != nil {
			return nil, fmt.Errorf("%s: scan job: %w", ix.dialect.Name, err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate jobs: %w", ix.dialect.Name, err)
	}
	return out, nil
}

func (ix *Index) decode(r row) (workspace.Job, error) {
	id, err := statepoint.ParseID(r.id)
	if err != nil {
		return workspace.Job{}, &workspace.CorruptManifestError{Dir: ix.fs.Root(), Err: err}
	}
	dir := ix.fs.DirectoryForID(id)
	sp, err := statepoint.ParseObject(r.payload)
	if err != nil {
		return workspace.Job{}, &workspace.CorruptManifestError{Dir: dir, Err: err}
	}
	got, err := ix.fs.Encoder().Identity(sp)
	if err != nil {
		return workspace.Job{}, &workspace.CorruptManifestError{Dir: dir, Err: err}
	}
	if got != id {
		return workspace.Job{}, &workspace.CorruptManifestError{Dir: dir, Err: fmt.Errorf("%w: row hashes to %s", workspace.ErrIDMismatch, got)}
	}
	return workspace.Job{ID: id, Dir: dir, Statepoint: sp}, nil
}

// Rebuild replaces the table contents with a fresh workspace scan and returns
// the scan warnings.
func (ix *Index) Rebuild(ctx context.Context) ([]error, error) {
	jobs, warnings, err := workspace.Collect(ix.fs.Enumerate(ctx, nil))
	if err != nil {
		return warnings, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return warnings, fmt.Errorf("%s: begin tx: %w", ix.dialect.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, ix.dialect.DeleteAll); err != nil {
		return warnings, fmt.Errorf("%s: clear jobs: %w", ix.dialect.Name, err)
	}
	for _, job := range jobs {
		payload, err := ix.fs.Encoder().Encode(job.Statepoint)
		if err != nil {
			return warnings, err
		}
		if _, err := tx.ExecContext(ctx, ix.dialect.Insert, job.ID.String(), payload); err != nil {
			return warnings, fmt.Errorf("%s: record job %s: %w", ix.dialect.Name, job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return warnings, fmt.Errorf("%s: commit: %w", ix.dialect.Name, err)
	}
	committed = true
	ix.logger.InfoContext(ctx, "index: rebuilt", slog.String("driver", ix.dialect.Name), slog.Int("jobs", len(jobs)), slog.Int("warnings", len(warnings)))
	return warnings, nil
}
