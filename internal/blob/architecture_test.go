package blob

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyFacadesImportInfra ensures that infra-backed implementations are
// reached only through their facade packages. Everything else depends on
// blob.Store or workspace.Index.
func TestOnlyFacadesImportInfra(t *testing.T) {
	rules := []struct {
		infra   string
		facades []string
	}{
		{infra: "paramspace/internal/infra/blob", facades: []string{"paramspace/internal/blob"}},
		{infra: "paramspace/internal/infra/index", facades: []string{"paramspace/internal/index"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "paramspace/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})

	for _, rule := range rules {
		for _, pkg := range pkgs {
			if hasPrefix(pkg.PkgPath, rule.infra) || allowed(pkg.PkgPath, rule.facades) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPrefix(importPath, rule.infra) {
					pos := filepath.Join(pkg.PkgPath, "...")
					seen[pos+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of infra package: %s", v)
		}
		t.Fatalf("found %d forbidden imports of infra packages", len(violations))
	}
}

func allowed(pkgPath string, facades []string) bool {
	for _, f := range facades {
		if hasPrefix(pkgPath, f) {
			return true
		}
	}
	return false
}

func hasPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
