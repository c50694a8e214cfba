// Package index selects the job index backend for a project.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"paramspace/internal/config"
	"paramspace/internal/infra/index/postgres"
	"paramspace/internal/infra/index/sqlindex"
	"paramspace/internal/infra/index/sqlite"
	"paramspace/internal/workspace"
)

// Handle is an opened index and the function releasing it.
type Handle struct {
	workspace.Index
	close func() error
}

// Close releases database resources; a no-op for the fs driver.
func (h Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Rebuild re-derives a cached index from the workspace. The fs driver has
// nothing to rebuild and only rescans for warnings.
func (h Handle) Rebuild(ctx context.Context) ([]error, error) {
	if r, ok := h.Index.(workspace.Rebuilder); ok {
		return r.Rebuild(ctx)
	}
	_, warnings, err := workspace.Collect(h.Enumerate(ctx, nil))
	return warnings, err
}

// Open selects the index driver named by cfg.Driver (fs when empty).
// Relative sqlite paths must already be resolved by the caller.
func Open(ctx context.Context, cfg config.IndexConfig, fs *workspace.FS, logger *slog.Logger) (Handle, error) {
	var opts []sqlindex.Option
	if logger != nil {
		opts = append(opts, sqlindex.WithLogger(logger))
	}
	switch cfg.Driver {
	case "", config.IndexFS:
		return Handle{Index: fs}, nil
	case config.IndexSQLite:
		ix, err := sqlite.Open(ctx, cfg.SQLitePath, fs, opts...)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Index: ix, close: ix.Close}, nil
	case config.IndexPostgres:
		ix, err := postgres.Open(ctx, cfg.PostgresDSN, fs, opts...)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Index: ix, close: ix.Close}, nil
	default:
		return Handle{}, fmt.Errorf("unknown index driver %s", cfg.Driver)
	}
}
