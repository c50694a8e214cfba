// Package postgres opens a job index in a Postgres database through pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"paramspace/internal/infra/index/sqlindex"
	"paramspace/internal/workspace"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultDriver = "pgx"

// Dialect is the Postgres flavour of the jobs table.
var Dialect = sqlindex.Dialect{
	Name: "postgres",
	CreateTable: `CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		statepoint JSONB NOT NULL
	)`,
	Insert:    `INSERT INTO jobs(job_id, statepoint) VALUES($1, $2::jsonb) ON CONFLICT (job_id) DO NOTHING`,
	SelectAll: `SELECT job_id, statepoint FROM jobs`,
	DeleteAll: `DELETE FROM jobs`,
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open connects to dsn, pings it and ensures the jobs table exists.
func Open(ctx context.Context, dsn string, fs *workspace.FS, opts ...sqlindex.Option) (*sqlindex.Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ix, err := sqlindex.New(ctx, db, Dialect, fs, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
