// Package testutil provides reusable testing helpers for enforcing the
// repository's layering boundaries: the entity runtime stays free of
// module-local imports, helper packages layer on the runtime alone, and
// infrastructure never reaches up into the session layer.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const modulePath = "entitycore"

// AssertNoTransitiveDependency shells out to `go list -deps` with the provided
// pattern (e.g. ./... or .) and fails the test if any dependency path satisfies
// the forbidden predicate. The reason string is appended to the failure for
// clarity. Note that the output includes the package under test itself and the
// full standard library closure, so predicates should anchor on the module path
// rather than match bare substrings.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIfTransitiveViolations(t, reason, viols)
}

// AssertNoDirectImports scans all non-test .go files in dir (typically "." from
// within the package) and fails if any import path satisfies the forbidden
// predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfDirectViolations(t, reason, viols)
}

// ModuleImportForbidden matches any import path inside this module. The entity
// runtime uses it to stay free of module-local dependencies.
func ModuleImportForbidden(path string) bool {
	return path == modulePath || strings.HasPrefix(path, modulePath+"/")
}

// RuntimeOnlyImportForbidden matches module-local import paths other than the
// entity runtime. Packages layered directly on pkg/entity use it to keep the
// runtime as their only module-local dependency.
func RuntimeOnlyImportForbidden(path string) bool {
	return ModuleImportForbidden(path) && path != modulePath+"/pkg/entity"
}

// CoreImportForbidden matches the session layer under internal/core.
// Infrastructure packages use it to stay independent of the session layer.
func CoreImportForbidden(path string) bool {
	return path == modulePath+"/internal/core" || strings.HasPrefix(path, modulePath+"/internal/core/")
}

// InternalImportForbidden matches any import path containing /internal/. It is
// only safe for direct-import guards: transitive listings include standard
// library and vendor internals that would trip it.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

var goListDeps = func(pattern string) ([]byte, error) {
	cmd := exec.Command("go", "list", "-deps", pattern)
	return cmd.CombinedOutput()
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(dir, name)
		fileAst, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfTransitiveViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden transitive dependency detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func failIfDirectViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
