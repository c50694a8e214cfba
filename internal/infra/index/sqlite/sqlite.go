// Package sqlite opens a job index in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"paramspace/internal/infra/index/sqlindex"
	"paramspace/internal/workspace"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Dialect is the SQLite flavour of the jobs table.
var Dialect = sqlindex.Dialect{
	Name: "sqlite",
	CreateTable: `CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		statepoint BLOB NOT NULL
	)`,
	Insert:    `INSERT INTO jobs(job_id, statepoint) VALUES(?, ?) ON CONFLICT(job_id) DO NOTHING`,
	SelectAll: `SELECT job_id, statepoint FROM jobs`,
	DeleteAll: `DELETE FROM jobs`,
}

// Open creates or opens the database at path.
func Open(ctx context.Context, path string, fs *workspace.FS, opts ...sqlindex.Option) (*sqlindex.Index, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: index path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	ix, err := sqlindex.New(ctx, db, Dialect, fs, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}
