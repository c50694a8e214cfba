package testutil

import (
	"context"
	"testing"
)

func TestStubInsertSelectDelete(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	exec := func(q string, args ...any) {
		t.Helper()
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			t.Fatalf("exec %q: %v", q, err)
		}
	}
	exec(`CREATE TABLE IF NOT EXISTS jobs (job_id TEXT PRIMARY KEY, statepoint JSONB NOT NULL)`)
	exec(`INSERT INTO jobs(job_id, statepoint) VALUES($1, $2::jsonb) ON CONFLICT (job_id) DO NOTHING`, "a", []byte(`{"x":1}`))
	exec(`INSERT INTO jobs(job_id, statepoint) VALUES($1, $2::jsonb) ON CONFLICT (job_id) DO NOTHING`, "a", []byte(`{"x":2}`))
	exec(`INSERT INTO jobs(job_id, statepoint) VALUES($1, $2) ON CONFLICT (job_id) DO UPDATE SET statepoint = EXCLUDED.statepoint`, "b", []byte(`{}`))
	exec(`INSERT INTO jobs(job_id, statepoint) VALUES($1, $2) ON CONFLICT (job_id) DO UPDATE SET statepoint = EXCLUDED.statepoint`, "b", []byte(`{"y":1}`))

	rows := conn.Rows("jobs")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if string(rows[0]["statepoint"].([]byte)) != `{"x":1}` || string(rows[1]["statepoint"].([]byte)) != `{"y":1}` {
		t.Fatalf("unexpected rows %v", rows)
	}

	rs, err := db.QueryContext(ctx, `SELECT job_id, statepoint FROM jobs`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	n := 0
	for rs.Next() {
		var id string
		var payload []byte
		if err := rs.Scan(&id, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		n++
	}
	_ = rs.Close()
	if n != 2 {
		t.Fatalf("expected 2 selected rows, got %d", n)
	}

	exec(`DELETE FROM jobs WHERE job_id = $1`, "a")
	if len(conn.Rows("jobs")) != 1 {
		t.Fatalf("expected targeted delete")
	}
	exec(`DELETE FROM jobs`)
	if len(conn.Rows("jobs")) != 0 {
		t.Fatalf("expected table cleared")
	}
}

func TestParseErrors(t *testing.T) {
	if _, _, err := parseInsert("INSERT INTO"); err == nil {
		t.Fatalf("expected insert parse error")
	}
	if _, _, err := parseSelect("UPDATE jobs"); err == nil {
		t.Fatalf("expected select parse error")
	}
	if _, _, err := parseDelete("DELETE FROM jobs WHERE nonsense"); err == nil {
		t.Fatalf("expected delete predicate error")
	}
}
