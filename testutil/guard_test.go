package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingLogger struct {
	failed  bool
	message string
}

func (r *recordingLogger) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = format
	_ = args
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		path     string
		internal bool
		adapter  bool
	}{
		{"vigiecore/internal/core", true, false},
		{"vigiecore/internal/adapters/httpapi", true, true},
		{"vigiecore/pkg/domain", false, false},
		{"github.com/go-chi/chi/v5", false, false},
	}
	for _, tc := range cases {
		if got := InternalImportForbidden(tc.path); got != tc.internal {
			t.Errorf("InternalImportForbidden(%q) = %v, want %v", tc.path, got, tc.internal)
		}
		if got := AdapterImportForbidden(tc.path); got != tc.adapter {
			t.Errorf("AdapterImportForbidden(%q) = %v, want %v", tc.path, got, tc.adapter)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	clean := "package sample\n\nimport \"fmt\"\n\nvar _ = fmt.Sprintf\n"
	dirty := "package sample\n\nimport _ \"vigiecore/internal/adapters/httpapi\"\n"
	if err := os.WriteFile(filepath.Join(dir, "clean.go"), []byte(clean), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dirty.go"), []byte(dirty), 0o600); err != nil {
		t.Fatal(err)
	}
	// Test files are out of scope for the scan.
	if err := os.WriteFile(filepath.Join(dir, "skip_test.go"), []byte(dirty), 0o600); err != nil {
		t.Fatal(err)
	}

	viols, err := directImportViolations(dir, AdapterImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "dirty.go") {
		t.Fatalf("violations = %v", viols)
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	restore := goListDeps
	defer func() { goListDeps = restore }()
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nvigiecore/pkg/domain\nvigiecore/internal/core\n"), nil
	}

	viols, _, err := transitiveDependencyViolations("./...", InternalImportForbidden)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(viols) != 1 || viols[0] != "vigiecore/internal/core" {
		t.Fatalf("violations = %v", viols)
	}

	goListDeps = func(string) ([]byte, error) {
		return []byte("go list boom"), errors.New("exit 1")
	}
	if _, _, err := transitiveDependencyViolations("./...", InternalImportForbidden); err == nil {
		t.Fatal("expected error surfaced from go list")
	}
}

func TestFailIfViolations(t *testing.T) {
	var log recordingLogger
	failIfViolations(&log, "reason", nil)
	if log.failed {
		t.Fatal("no violations must not fail")
	}
	failIfViolations(&log, "reason", []string{"vigiecore/internal/core"})
	if !log.failed {
		t.Fatal("violations must fail the test")
	}
}
