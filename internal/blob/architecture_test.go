package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestInfraBackendsStayBehindFacades ensures backend implementations are only
// reachable through their facade packages: archival backends through this
// package, persistence backends through internal/core's constructors. Every
// other package must depend on the interfaces instead.
func TestInfraBackendsStayBehindFacades(t *testing.T) {
	rules := []struct {
		infraPrefix string
		allowed     []string
	}{
		{
			infraPrefix: "cipherflow/internal/infra/blob",
			allowed:     []string{"cipherflow/internal/blob"},
		},
		{
			infraPrefix: "cipherflow/internal/infra/persistence",
			allowed:     []string{"cipherflow/internal/core"},
		},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "cipherflow/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, rule := range rules {
		for _, pkg := range pkgs {
			if hasAnyPrefix(pkg.PkgPath, append(rule.allowed, rule.infraPrefix)) {
				continue
			}
			for importPath := range pkg.Imports {
				if importPath == rule.infraPrefix || strings.HasPrefix(importPath, rule.infraPrefix+"/") {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
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
			t.Errorf("forbidden import of infra backend: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
