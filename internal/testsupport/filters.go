package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sdstore/internal/catalog"
)

// DefaultBudgets mirrors the budgets used throughout the test suite.
func DefaultBudgets() map[catalog.Kind]int {
	return map[catalog.Kind]int{
		catalog.KindNop:         3,
		catalog.KindBcompress:   4,
		catalog.KindBdecompress: 4,
		catalog.KindGcompress:   2,
		catalog.KindGdecompress: 2,
		catalog.KindEncrypt:     2,
		catalog.KindDecrypt:     2,
	}
}

// WriteBudgetFile writes a budget file for the given limits and returns its
// path.
func WriteBudgetFile(t testing.TB, limits map[catalog.Kind]int) string {
	t.Helper()

	var sb strings.Builder
	for _, kind := range catalog.Kinds() {
		limit, ok := limits[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s %d\n", kind, limit)
	}
	path := filepath.Join(t.TempDir(), "budgets.conf")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write budget file: %v", err)
	}
	return path
}

// NewFilterDir creates a directory of passthrough stub filters, one per kind.
// Each stub copies stdin to stdout, which is exactly what the real nop does
// and close enough for the rest in tests.
func NewFilterDir(t testing.TB) string {
	t.Helper()

	dir := t.TempDir()
	for _, kind := range catalog.Kinds() {
		WriteFilterStub(t, dir, string(kind), "#!/bin/sh\nexec cat\n")
	}
	return dir
}

// WriteFilterStub writes an executable shell stub into dir.
func WriteFilterStub(t testing.TB, dir, name, script string) {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
}

// MustLoadCatalog builds a catalog from the given limits and a fresh stub
// filter directory.
func MustLoadCatalog(t testing.TB, limits map[catalog.Kind]int) *catalog.Catalog {
	t.Helper()

	budgetPath := WriteBudgetFile(t, limits)
	filterDir := NewFilterDir(t)
	cat, err := catalog.Load(budgetPath, filterDir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}
