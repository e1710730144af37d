package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"
)

func TestPendingCandidatesSortsUpMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_rules.up.sql":   {Data: []byte("SELECT 2")},
		"0001_base.up.sql":    {Data: []byte("SELECT 1")},
		"0001_base.down.sql":  {Data: []byte("SELECT 0")},
		"README.md":           {Data: []byte("notes")},
		"archive/0000.up.sql": {Data: []byte("SELECT -1")},
	}

	files, err := pendingCandidates(fsys)
	if err != nil {
		t.Fatalf("pendingCandidates() error = %v", err)
	}
	if len(files) != 2 || files[0] != "0001_base.up.sql" || files[1] != "0002_rules.up.sql" {
		t.Fatalf("unexpected migration order: %v", files)
	}
}

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}
