package view

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"paramspace/pkg/statepoint"
)

func TestEndToEndProjection(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	workspace := filepath.Join(base, "workspace")
	root := filepath.Join(base, "view")
	sps := objects(t, map[string]any{"a": 0, "b": 0}, map[string]any{"a": 1, "b": 0}, map[string]any{"a": 2, "b": 0})

	keys, err := DiscriminatingKeys(sps)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(keys) != 1 || keys[0].String() != "a" {
		t.Fatalf("unexpected keys %v", keys)
	}
	entries, err := Projector{}.Paths(sps, keys)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	for i, e := range entries {
		want := filepath.Join("a", []string{"0", "1", "2"}[i])
		if e.ViewPath != want {
			t.Fatalf("entry %d view path %s, want %s", i, e.ViewPath, want)
		}
	}
	report, err := Projector{}.Project(ctx, root, workspace, entries)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if report.Linked != 3 || len(report.Conflicts) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(root, e.ViewPath))
		if err != nil {
			t.Fatalf("readlink: %v", err)
		}
		id, _ := statepoint.Identity(e.Statepoint)
		if target != filepath.Join(workspace, id.String()) {
			t.Fatalf("link %s -> %s, want job %s", e.ViewPath, target, id)
		}
	}

	rerun, err := Projector{}.Project(ctx, root, workspace, entries)
	if err != nil {
		t.Fatalf("re-project: %v", err)
	}
	if rerun.Skipped != 3 || rerun.Linked != 0 || len(rerun.Conflicts) != 0 {
		t.Fatalf("re-run should be a no-op, got %+v", rerun)
	}
}

func TestProjectionReportsConflictsPerEntry(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	root := filepath.Join(base, "view")
	sps := objects(t, map[string]any{"a": 0}, map[string]any{"a": 1}, map[string]any{"a": 2})
	keys, _ := DiscriminatingKeys(sps)
	entries, _ := Projector{}.Paths(sps, keys)

	occupied := filepath.Join(root, entries[0].ViewPath)
	if err := os.MkdirAll(filepath.Dir(occupied), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(base, "elsewhere"), occupied); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	report, err := Projector{}.Project(ctx, root, filepath.Join(base, "ws"), entries)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if report.Linked != 2 || len(report.Conflicts) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	var conflict *IdentityCollisionConflict
	if !errors.As(report.Conflicts[0], &conflict) || conflict.Path != occupied {
		t.Fatalf("unexpected conflict %v", report.Conflicts[0])
	}
}

func TestProjectionCollidingViewPaths(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	entries := []Entry{
		{ID: statepoint.ID("1111111111111111111111111111111111111111111111111111111111111111"), ViewPath: "a/0"},
		{ID: statepoint.ID("2222222222222222222222222222222222222222222222222222222222222222"), ViewPath: "a/0"},
	}
	report, err := Projector{}.Project(ctx, filepath.Join(base, "view"), filepath.Join(base, "ws"), entries)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if report.Linked != 1 || len(report.Conflicts) != 1 {
		t.Fatalf("expected one link and one conflict, got %+v", report)
	}
}

func TestProjectionRefusesLinkedParents(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	root := filepath.Join(base, "view")
	jobDir := filepath.Join(base, "ws", "job")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "a"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(jobDir, filepath.Join(root, "a", "0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	entries := []Entry{{ID: statepoint.ID("3333333333333333333333333333333333333333333333333333333333333333"), ViewPath: "a/0/b/1"}}
	report, err := Projector{}.Project(ctx, root, filepath.Join(base, "ws"), entries)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected conflict, got %+v", report)
	}
	if _, err := os.Stat(filepath.Join(jobDir, "b")); !os.IsNotExist(err) {
		t.Fatalf("projection wrote into a job directory")
	}
}

func TestPathsRendering(t *testing.T) {
	sps := objects(t,
		map[string]any{"s": "x/y", "n": map[string]any{"f": 0.5}, "flag": true},
		map[string]any{"s": "", "n": map[string]any{"f": 1.0}, "flag": nil},
		map[string]any{"s": "..", "n": map[string]any{}},
	)
	keys, err := DiscriminatingKeys(sps)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	entries, err := Projector{MissingSentinel: "none"}.Paths(sps, keys)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	want := []string{
		filepath.Join("flag", "true", "s", "x%2Fy", "n.f", "0.5"),
		filepath.Join("flag", "null", "s", "''", "n.f", "1"),
		filepath.Join("flag", "none", "s", "'..'", "n.f", "none"),
	}
	for i, e := range entries {
		if e.ViewPath != want[i] {
			t.Errorf("entry %d: %s, want %s", i, e.ViewPath, want[i])
		}
	}
}

func TestPathsWithoutKeysUseID(t *testing.T) {
	sps := objects(t, map[string]any{"a": 1})
	entries, err := Projector{}.Paths(sps, nil)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	id, _ := statepoint.Identity(sps[0])
	if entries[0].ViewPath != id.String() {
		t.Fatalf("unexpected view path %s", entries[0].ViewPath)
	}
}

func TestFilterPrefix(t *testing.T) {
	got, err := FilterPrefix("view", statepoint.MustObject(map[string]any{"b": 2, "a": "x"}))
	if err != nil {
		t.Fatalf("prefix: %v", err)
	}
	if got != filepath.Join("view", "a", "x", "b", "2") {
		t.Fatalf("unexpected prefix %s", got)
	}
}

func TestSegmentKeepsValuesDistinct(t *testing.T) {
	values := []string{"", "''", "'", ".", "'.'", "..", "'..'", "x/y", "x%2Fy", "%27%27", "plain"}
	seen := make(map[string]string, len(values))
	for _, v := range values {
		s := Segment(v)
		if prev, ok := seen[s]; ok {
			t.Fatalf("values %q and %q share segment %q", prev, v, s)
		}
		seen[s] = v
		if s == "" || s == "." || s == ".." || filepath.Base(s) != s {
			t.Fatalf("segment %q for %q is not a single path element", s, v)
		}
	}

	sps := objects(t, map[string]any{"a": ""}, map[string]any{"a": "''"})
	keys, err := DiscriminatingKeys(sps)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	entries, err := Projector{}.Paths(sps, keys)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if entries[0].ViewPath == entries[1].ViewPath {
		t.Fatalf("distinct values share view path %s", entries[0].ViewPath)
	}
}

func TestProjectResolvesRelativeWorkspaceRoot(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)
	sps := objects(t, map[string]any{"a": 0}, map[string]any{"a": 1})
	keys, _ := DiscriminatingKeys(sps)
	entries, err := Projector{}.Paths(sps, keys)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	for _, e := range entries {
		if err := os.MkdirAll(filepath.Join("ws", e.ID.String()), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	report, err := Projector{}.Project(context.Background(), "view", "ws", entries)
	if err != nil || report.Linked != 2 {
		t.Fatalf("project: %+v %v", report, err)
	}
	for _, e := range entries {
		link := filepath.Join("view", e.ViewPath)
		if info, err := os.Stat(link); err != nil || !info.IsDir() {
			t.Fatalf("link %s dangles: %v", link, err)
		}
	}
}
