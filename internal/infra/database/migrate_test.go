package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationSetsArePaired(t *testing.T) {
	for _, set := range []string{MigrationsPost, MigrationsMedia, MigrationsSearch, MigrationsIdentity} {
		entries, err := fs.ReadDir(migrationsFS, "migrations/"+set)
		if err != nil {
			t.Fatalf("read migration set %s: %v", set, err)
		}

		ups, downs := 0, 0
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".up.sql"):
				ups++
			case strings.HasSuffix(e.Name(), ".down.sql"):
				downs++
			}
		}
		if ups == 0 || ups != downs {
			t.Fatalf("migration set %s: %d up files, %d down files", set, ups, downs)
		}
	}
}

func TestNewMigratorUnknownSet(t *testing.T) {
	if _, err := NewMigrator("postgres://localhost:5432/none?sslmode=disable", "unknown"); err == nil {
		t.Fatal("expected error for unknown migration set")
	}
}
