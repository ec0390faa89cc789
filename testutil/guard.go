// Package testutil provides test helpers that enforce layering rules: the
// domain model and the detection engine stay free of I/O and adapters.
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

// AssertNoTransitiveDependency runs `go list -deps pattern` and fails if any
// dependency matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIf(t, "transitive dependency", reason, viols)
}

// AssertNoDirectImports parses the non-test .go files of dir and fails if
// any import matches forbidden. Subdirectories and build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIf(t, "direct imports", reason, viols)
}

// InternalImportForbidden matches any path under an internal/ directory.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// ioPackages are stdlib packages that perform network, database or file I/O.
var ioPackages = map[string]struct{}{
	"net":          {},
	"net/http":     {},
	"database/sql": {},
	"os":           {},
	"os/exec":      {},
}

// IOImportForbidden matches packages that reach storage, transport or
// messaging: the stdlib I/O packages above, this module's infra, blob,
// snapshot, upload and adapter layers, and the cloud/broker/driver SDKs.
func IOImportForbidden(path string) bool {
	if _, ok := ioPackages[path]; ok {
		return true
	}
	for _, frag := range []string{"/internal/infra/", "/internal/adapters/", "/internal/blob", "/internal/snapshot", "/internal/upload", "/internal/notify"} {
		if strings.Contains(path, frag) {
			return true
		}
	}
	for _, prefix := range []string{"github.com/aws/", "github.com/segmentio/kafka-go", "github.com/jackc/pgx", "modernc.org/sqlite", "github.com/gorilla/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func transitiveViolations(pattern string, forbidden func(string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directViolations(dir string, forbidden func(string) bool) ([]string, error) {
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
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			if ip := strings.Trim(imp.Path.Value, `"`); forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalf interface {
	Fatalf(format string, args ...any)
}

func failIf(t fatalf, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
