package pgx

import (
	"io/fs"
	"slices"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("expected down migration for %s", name)
		}
	}
}

func TestMigrationsCreateGraphTables(t *testing.T) {
	data, err := fs.ReadFile(migrationFS, "migrations/000001_graph.up.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, table := range []string{"kg_versions", "kg_nodes", "kg_edges", "kg_provenance", "kg_revisions"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("expected migration to create %s", table)
		}
	}
}

func TestNonNil(t *testing.T) {
	if got := nonNil[string](nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	in := []string{"a"}
	if got := nonNil(in); !slices.Equal(got, in) {
		t.Fatalf("expected %v, got %v", in, got)
	}
}
